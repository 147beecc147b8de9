package cmd

import (
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// newLogsCmd creates the `logs` command, which prints the agent's log file.
// Tasks usually run with the console at info level; the file keeps the full
// debug trail, and this is the convenient way to read it.
func newLogsCmd() *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Prints the scout log file, optionally following it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			follow, _ := cmd.Flags().GetBool("follow")

			logFile := cfg.Logger.LogFile
			if logFile == "" {
				return fmt.Errorf("logger.log_file is not configured, nothing to read")
			}

			tailCfg := tail.Config{
				Follow:    follow,
				ReOpen:    follow,
				MustExist: true,
				Logger:    tail.DiscardingLogger,
			}
			if follow {
				// Start at the end; history is what the plain mode is for.
				tailCfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
			}

			t, err := tail.TailFile(logFile, tailCfg)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logFile, err)
			}
			defer t.Cleanup()

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					_ = t.Stop()
					return nil
				case line, ok := <-t.Lines:
					if !ok {
						// Wait for the tail goroutine so its shutdown error,
						// if any, is the one reported.
						return t.Wait()
					}
					if line.Err != nil {
						return line.Err
					}
					fmt.Fprintln(cmd.OutOrStdout(), line.Text)
				}
			}
		},
	}

	logsCmd.Flags().BoolP("follow", "f", false, "Keep the file open and print new lines as they arrive")
	return logsCmd
}
