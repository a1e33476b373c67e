package encoding

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// placeholderOutput stands in for the output file while the path is derived
// from the argument list.
const placeholderOutput = "transcode"

// OutputFilePath derives a deterministic output path from the encoder
// arguments and the requesting session, so identical requests from the same
// session map to the same file. Segmented jobs may get their own directory.
func OutputFilePath(args ArgumentBuilder, job *Job, transcodeDir string, subfolder bool) (string, error) {
	argv, err := args.BuildArgs(job, placeholderOutput)
	if err != nil {
		return "", err
	}

	key := strings.Join(argv, " ") + "-" + job.Request.DeviceID + "-" + job.Request.PlaySessionID
	sum := md5.Sum([]byte(key))
	name := hex.EncodeToString(sum[:])

	ext := strings.ToLower(job.OutputContainer)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	if subfolder {
		return filepath.Join(transcodeDir, name, name+ext), nil
	}
	return filepath.Join(transcodeDir, name+ext), nil
}
