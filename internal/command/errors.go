package command

import (
	"errors"
	"fmt"

	"github.com/saravenpi/wavechat/internal/api"
	"github.com/spf13/cobra"
)

// reportedError marks an error that was already printed for the user.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	var apiErr *api.APIError
	if errors.As(err, &apiErr) && (apiErr.Status == 401 || apiErr.Status == 403) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: the server rejected your session. Check session_cookie or auth_token.")
	}

	return reportedError{err}
}
