package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"offgrid/internal/offgrid"
)

var (
	serverURL     string
	controlPrefix string
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func controlURL(op string) string {
	return strings.TrimRight(serverURL, "/") + "/" + strings.Trim(controlPrefix, "/") + "/" + op
}

func newCommandCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " <url>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := controlURL(op) + "?url=" + url.QueryEscape(args[0])
			resp, err := httpClient.Post(target, "text/plain", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
				return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(b)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s accepted for %s\n", op, args[0])
			return nil
		},
	}
}

var (
	pinCmd    = newCommandCmd("pin", "Cache the full payload of a url and exempt it from eviction")
	unpinCmd  = newCommandCmd("unpin", "Remove the pin of a url, keeping its payload until evicted")
	deleteCmd = newCommandCmd("delete", "Remove a url from the cache and the pin set")
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List cached urls of the current generation, oldest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := httpClient.Get(controlURL("keys"))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("keys: unexpected status %d", resp.StatusCode)
		}
		var entries []offgrid.EntryInfo
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			return fmt.Errorf("decode keys: %w", err)
		}

		pinned := color.New(color.FgGreen, color.Bold).SprintFunc()
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header([]string{"#", "URL", "Status", "Size", "Pinned"})
		var data [][]string
		for i, e := range entries {
			pin := "-"
			if e.Pinned {
				pin = pinned("yes")
			}
			data = append(data, []string{
				strconv.Itoa(i + 1),
				e.URL,
				strconv.Itoa(e.Status),
				strconv.Itoa(e.Size),
				pin,
			})
		}
		if err := table.Bulk(data); err != nil {
			return err
		}
		return table.Render()
	},
}

func init() {
	for _, c := range []*cobra.Command{pinCmd, unpinCmd, deleteCmd, keysCmd} {
		c.Flags().StringVar(&serverURL, "server", getenvDefault("OFFGRID_SERVER", "http://localhost:8080"), "address of a running offgrid proxy")
		c.Flags().StringVar(&controlPrefix, "control", "/__offgrid", "control path prefix of the proxy")
	}
}
