package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's session and reader state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			body, err := apiGet(cfg.Server.Addr, "/status")
			if err != nil {
				return err
			}

			var pretty map[string]any
			if err := json.Unmarshal(body, &pretty); err != nil {
				return errors.Wrap(err, "[status] decode response")
			}
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func apiGet(addr, path string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		return nil, errors.Wrap(err, "is the daemon running?")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("daemon returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func apiPost(addr, path string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post("http://"+addr+path, "application/json", nil)
	if err != nil {
		return nil, errors.Wrap(err, "is the daemon running?")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("daemon returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
