package cmd

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"screenlink/internal/core/services"
	"screenlink/internal/infrastructure/media"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
)

var (
	joinOut    string
	joinSignal signalingFlags
)

var joinCmd = &cobra.Command{
	Use:   "join CODE",
	Short: "Joins a shared screen.",
	Long: `Joins the host sharing CODE and receives its video until interrupted.
With --out the received VP8 frames are also written to an IVF file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := interruptContext(cmd.Context())
		defer stop()

		controller, err := newController(nil, joinSignal.factory(), sessionMetrics())
		if err != nil {
			return err
		}
		defer controller.Close()

		updates, cancel := controller.Subscribe()
		defer cancel()
		go printStatus(cmd.ErrOrStderr(), updates)

		viewer := controller.Viewer()
		var sinks sync.WaitGroup
		viewer.OnRemoteTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeVP8) {
				log.Infow("ignoring track", "mime_type", track.Codec().MimeType)
				return
			}
			sink, err := newSink(viewerFeedback{viewer})
			if err != nil {
				log.Errorw("cannot consume remote track", "error", err)
				return
			}
			sinks.Add(1)
			go func() {
				defer sinks.Done()
				defer sink.Close()
				if err := sink.Run(ctx, track); err != nil {
					log.Warnw("remote track stopped", "error", err)
				}
				stats := sink.Stats()
				log.Infow("remote track ended", "path", joinOut, "packets", stats.Packets, "frames", stats.Written, "plis", stats.PLIsSent)
			}()
		})

		if err := viewer.Connect(ctx, args[0]); err != nil {
			return sessionError(viewer.Snapshot(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", viewer.EnteredCode())

		<-ctx.Done()
		viewer.Leave()
		sinks.Wait()
		return nil
	},
}

// newSink consumes the remote track. Without --out frames are decoded for
// keyframe tracking and then discarded.
func newSink(feedback media.RTCPWriter) (*media.IVFSink, error) {
	if joinOut == "" {
		return media.NewIVFSinkWith(discard{}, feedback, cfg.WebRTC.PLIInterval, log), nil
	}
	return media.NewIVFSink(joinOut, feedback, cfg.WebRTC.PLIInterval, log)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Close() error                { return nil }

var errNoPeer = errors.New("no peer connection")

// viewerFeedback sends RTCP through whichever peer the viewer currently holds.
type viewerFeedback struct{ viewer *services.ViewerSession }

func (f viewerFeedback) WriteRTCP(pkts []rtcp.Packet) error {
	peer := f.viewer.Peer()
	if peer == nil {
		return errNoPeer
	}
	return peer.WriteRTCP(pkts)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&joinOut, "out", "", "write the received video to this IVF file")
	joinCmd.Flags().StringVar(&joinSignal.relay, "relay", "", "relay websocket URL (default signal.url)")
	joinCmd.Flags().BoolVar(&joinSignal.simulated, "simulated", false, "use the simulated signaling stand-in")
	joinCmd.MarkFlagsMutuallyExclusive("relay", "simulated")
}
