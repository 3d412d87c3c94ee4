package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matthieugras/pos-client/internal/api"
)

func newRequestCmd(a *app) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an arbitrary authenticated request and print the response",
		Long: `Send one request through the authenticated client. PATH is relative to
the base URL (e.g. inventory/ingredients/) or an absolute URL.`,
		Example: `  posctl request GET auth/me/
  posctl request POST inventory/ingredients/ --data '{"name":"Rice","unit":"kg"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := api.NewRequest(strings.ToUpper(args[0]), args[1], nil)
			if err != nil {
				return err
			}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				req.Body = []byte(data)
			}

			resp, err := a.client.Do(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Body) == 0 {
				fmt.Fprintf(out, "%d (no content)\n", resp.StatusCode)
				return nil
			}
			var pretty bytes.Buffer
			if json.Indent(&pretty, resp.Body, "", "  ") != nil {
				out.Write(resp.Body)
				fmt.Fprintln(out)
				return nil
			}
			pretty.WriteByte('\n')
			_, err = pretty.WriteTo(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	return cmd
}
