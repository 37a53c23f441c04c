package cli

// client.go – thin HTTP client for the node's local status API. Every
// read command GETs an endpoint and prints the JSON; the action
// commands POST a JSON body (a filename for download and subscribe, an
// empty object for save).

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"syncmesh/pkg/utils"
)

var apiClient = &http.Client{Timeout: 30 * time.Second}

func apiBase(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("api"); v != "" {
		return "http://" + v
	}
	return "http://" + utils.EnvOrDefault("MESH_API_ADDR", "127.0.0.1:7410")
}

func apiGet(cmd *cobra.Command, path string) error {
	resp, err := apiClient.Get(apiBase(cmd) + path)
	if err != nil {
		return utils.Wrap(err, "is the node running?")
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func apiPost(cmd *cobra.Command, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := apiClient.Post(apiBase(cmd)+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return utils.Wrap(err, "is the node running?")
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
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(data))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
