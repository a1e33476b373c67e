package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/http/handlers"
	"github.com/jmylchreest/encodr/internal/media"
)

var (
	decideSource  string
	decideRequest string
	decideOutDir  string
	decideQuiet   bool
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Print the decision for a request without starting an encoder",
	Long: `Decide how a media source would be delivered for a playback request.

The source is a media source document as produced by the API's probe
(streams, container, bitrate). The request is the same JSON body accepted by
POST /api/v1/decisions. The decision is printed as JSON on stdout and a short
summary is written to stderr.

  encodr decide --source film.json --request tv.json`,
	RunE: runDecide,
}

func init() {
	rootCmd.AddCommand(decideCmd)
	decideCmd.Flags().StringVar(&decideSource, "source", "", "media source JSON file")
	decideCmd.Flags().StringVar(&decideRequest, "request", "", "playback request JSON file (- for stdin)")
	decideCmd.Flags().StringVar(&decideOutDir, "transcode-dir", os.TempDir(), "directory output paths are computed against")
	decideCmd.Flags().BoolVarP(&decideQuiet, "quiet", "q", false, "omit the summary")
	_ = decideCmd.MarkFlagRequired("source")
	_ = decideCmd.MarkFlagRequired("request")
}

func runDecide(cmd *cobra.Command, _ []string) error {
	var src media.Source
	if err := readJSON(decideSource, cmd.InOrStdin(), &src); err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	var req handlers.PlaybackRequest
	if err := readJSON(decideRequest, cmd.InOrStdin(), &req); err != nil {
		return fmt.Errorf("reading request: %w", err)
	}
	if src.ID == "" {
		src.ID = filepath.Base(decideSource)
	}
	if req.ItemID == "" {
		req.ItemID = src.ID
	}

	planner := ffmpeg.NewPlanner("ffmpeg")
	builder := encoding.NewBuilder(singleSource{itemID: req.ItemID, src: &src}, planner, decideOutDir).
		WithResolutionNormalizer(encoding.NewResolutionNormalizer(encoding.DefaultResolutionSteps))

	job, err := builder.Build(cmd.Context(), &req.Request, req.RequestedPath, req.Headers, req.Type)
	if err != nil {
		return err
	}
	decision, err := handlers.DecisionFromJob(job, planner)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(decision); err != nil {
		return err
	}
	if !decideQuiet {
		printSummary(cmd.ErrOrStderr(), decision)
	}
	return nil
}

func readJSON(path string, stdin io.Reader, v any) error {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return json.NewDecoder(r).Decode(v)
}

func printSummary(w io.Writer, d handlers.DecisionResponse) {
	p := message.NewPrinter(language.English)
	mode := func(copied bool) string {
		if copied {
			return "copy"
		}
		return "transcode"
	}

	p.Fprintf(w, "container: %s (%s)\n", d.Container, d.Type)
	if d.VideoCodec != "" {
		p.Fprintf(w, "video:     %s %s", mode(d.VideoCopy), d.VideoCodec)
		if d.Width != nil && d.Height != nil {
			fmt.Fprintf(w, " %dx%d", *d.Width, *d.Height)
		}
		if d.VideoBitrate != nil {
			p.Fprintf(w, " @ %d bps", *d.VideoBitrate)
		}
		p.Fprintln(w)
	}
	if d.AudioCodec != "" {
		p.Fprintf(w, "audio:     %s %s", mode(d.AudioCopy), d.AudioCodec)
		if d.AudioChannels != nil {
			p.Fprintf(w, " %dch", *d.AudioChannels)
		}
		if d.AudioBitrate != nil {
			p.Fprintf(w, " @ %d bps", *d.AudioBitrate)
		}
		p.Fprintln(w)
	}
	if d.StartTimeTicks > 0 {
		p.Fprintf(w, "start:     %d ticks\n", d.StartTimeTicks)
	}
	p.Fprintf(w, "output:    %s\n", d.OutputPath)
}

// singleSource is a library holding one item with one media source.
type singleSource struct {
	itemID string
	src    *media.Source
}

func (l singleSource) GetItem(_ context.Context, id string) (*media.Item, error) {
	if id != l.itemID {
		return nil, nil
	}
	typ := media.ItemAudio
	for _, s := range l.src.Streams {
		if s.Type == media.StreamVideo {
			typ = media.ItemVideo
			break
		}
	}
	return &media.Item{ID: id, MediaType: typ}, nil
}

func (l singleSource) GetPlaybackMediaSources(_ context.Context, itemID string) ([]*media.Source, error) {
	if itemID != l.itemID {
		return nil, nil
	}
	cp := *l.src
	return []*media.Source{&cp}, nil
}

func (singleSource) GetLiveStream(context.Context, string) (*media.Source, error) {
	return nil, nil
}

func (singleSource) OpenLiveStream(context.Context, string) (encoding.LiveStream, error) {
	return nil, fmt.Errorf("live streams are not available offline")
}
