// Command codestoryctl is a thin CLI client over codestoryd's HTTP
// surface (spec §6.2): it starts, inspects, lists, and cancels ingestion
// jobs. Grounded on cli/root.go's cobra.Command tree and viper flag
// binding, narrowed from the teacher's own flow-process command set to
// ingest/get/list/cancel.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "codestoryctl",
	Short: "client for the Code Story ingestion service",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "codestoryd base URL")
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.SetDefault("server", "http://localhost:8080")
	viper.AutomaticEnv()

	rootCmd.AddCommand(ingestCmd(), getCmd(), listCmd(), cancelCmd())
}

func baseURL() string {
	if serverURL != "" {
		return serverURL
	}
	return viper.GetString("server")
}

func ingestCmd() *cobra.Command {
	var steps []string
	cmd := &cobra.Command{
		Use:   "ingest <repo-path>",
		Short: "start an ingestion job against a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]interface{}{
				"source":      args[0],
				"source_type": "filesystem",
				"steps":       steps,
			})
			if err != nil {
				return err
			}
			return postJSON(baseURL()+"/v1/ingest", body)
		},
	}
	cmd.Flags().StringSliceVar(&steps, "steps", nil, "comma-separated step names (default: all)")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "show a job's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(baseURL() + "/v1/ingest/" + args[0])
		},
	}
}

func listCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list ingestion jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := baseURL() + "/v1/ingest/jobs"
			if status != "" {
				url += "?status=" + status
			}
			return getJSON(url)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by job status")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL()+"/v1/ingest/"+args[0]+"/cancel", nil)
		},
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func postJSON(url string, body []byte) error {
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func getJSON(url string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(data))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
