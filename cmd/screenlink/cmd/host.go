package cmd

import (
	"fmt"
	"os"

	"screenlink/internal/core/ports"
	"screenlink/internal/infrastructure/capture"

	"github.com/spf13/cobra"
)

var (
	hostSource   string
	hostEmbedded bool
	hostCodeFile string
	hostSignal   signalingFlags
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Shares a screen recording and prints its access code.",
	Long: `Shares the IVF recording given by --source until interrupted.

By default the session is registered with the relay at signal.url. With
--embedded this process runs its own relay on server.address and viewers
dial it directly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := interruptContext(cmd.Context())
		defer stop()

		var signaling ports.SignalingFactory
		if hostEmbedded {
			relay := startEmbeddedRelay()
			defer relay.Close()
			signaling = relay.factory()
		} else {
			signaling = hostSignal.factory()
		}

		controller, err := newController(capture.NewIVFSource(hostSource, log), signaling, sessionMetrics())
		if err != nil {
			return err
		}
		defer controller.Close()

		updates, cancel := controller.Subscribe()
		defer cancel()
		go printStatus(cmd.ErrOrStderr(), updates)

		host := controller.Host()
		code, err := host.StartSharing(ctx)
		if err != nil {
			return sessionError(host.Snapshot(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "access code: %s\n", code)
		if hostCodeFile != "" {
			host.CopyCode(fileClipboard(hostCodeFile))
		}

		<-ctx.Done()
		host.StopSharing()
		return nil
	},
}

// fileClipboard stores the copied code in a file.
type fileClipboard string

func (f fileClipboard) WriteText(text string) error {
	return os.WriteFile(string(f), []byte(text+"\n"), 0o600)
}

func init() {
	rootCmd.AddCommand(hostCmd)

	hostCmd.Flags().StringVar(&hostSource, "source", "screen.ivf", "IVF recording to share")
	hostCmd.Flags().BoolVar(&hostEmbedded, "embedded", false, "run an in-process relay on server.address")
	hostCmd.Flags().StringVar(&hostCodeFile, "copy-to", "", "also write the access code to this file")
	hostCmd.Flags().StringVar(&hostSignal.relay, "relay", "", "relay websocket URL (default signal.url)")
	hostCmd.Flags().BoolVar(&hostSignal.simulated, "simulated", false, "use the simulated signaling stand-in")
	hostCmd.MarkFlagsMutuallyExclusive("embedded", "relay", "simulated")
}
