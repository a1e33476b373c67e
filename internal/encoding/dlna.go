package encoding

import (
	"fmt"

	"github.com/jmylchreest/encodr/internal/media"
)

// DLNA response header names.
const (
	HeaderTransferMode       = "transferMode.dlna.org"
	HeaderRealTimeInfo       = "realTimeInfo.dlna.org"
	HeaderAvailableSeekRange = "X-AvailableSeekRange"
	HeaderMediaInfo          = "MediaInfo.sec"
)

// ResponseHeaders returns the DLNA headers to send with the job's output.
// transferMode defaults to Streaming. Seek ranges are only advertised for
// transcoded output of known duration served to a profiled device.
func (j *Job) ResponseHeaders(transferMode string, includeMediaInfo bool) map[string]string {
	if transferMode == "" {
		transferMode = "Streaming"
	}
	h := map[string]string{
		HeaderTransferMode: transferMode,
		HeaderRealTimeInfo: "DLNA.ORG_TLAG=*",
	}

	if j.RunTimeTicks == nil || j.Request.Static || j.DeviceProfile == nil {
		return h
	}

	start := j.StartTicks()
	runtime := *j.RunTimeTicks
	h[TimeSeekHeader] = fmt.Sprintf("npt=%s-%s/%s", nptSeconds(start), nptSeconds(runtime), nptSeconds(runtime))
	h[HeaderAvailableSeekRange] = fmt.Sprintf("1 npt=%s-%s", nptSeconds(start), nptSeconds(runtime))

	if includeMediaInfo {
		ms := media.TicksToDuration(runtime).Milliseconds()
		h[HeaderMediaInfo] = fmt.Sprintf("SEC_Duration=%d;", ms)
	}
	return h
}

func nptSeconds(ticks int64) string {
	return fmt.Sprintf("%.3f", float64(ticks)/float64(media.TicksPerSecond))
}
