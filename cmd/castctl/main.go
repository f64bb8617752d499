// Command castctl is the operator CLI for a castkeeper server. It inspects
// the job queue, decides cost approvals and triggers reconciliation through
// the admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
