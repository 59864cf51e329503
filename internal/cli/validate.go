package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/information-sharing-networks/slash-messenger/internal/crypto"
	"github.com/information-sharing-networks/slash-messenger/internal/slash"
)

var validateCmd = &cobra.Command{
	Use:   "validate <message-file> <message-type> <message-version>",
	Short: "Validate a message without sending it",
	Long: `Run the checks made before a message is encrypted: the message, type and
version must not be empty and the message must be a JSON array.

No network calls are made.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, err := readMessageFile(args[0])
		if err != nil {
			return err
		}

		if err := slash.ValidateMessage(message, args[1], args[2]); err != nil {
			appLogger.Error("message is not valid",
				slog.String("file", args[0]),
				slog.String("error", err.Error()),
			)
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s is a valid %s %s message\n", args[0], args[1], args[2])
		return nil
	},
}

// readMessageFile returns the message file contents without a leading byte order mark
func readMessageFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message file: %w", err)
	}
	return crypto.TrimBOM(data), nil
}
