/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command knhk-cli is the operator's interface to a running knhk-kernel:
// checking andon status, acknowledging a Red trip, rolling a descriptor
// back to a prior snapshot, and inspecting the receipt log.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
)

type cli struct {
	Endpoint string        `name:"endpoint" default:"http://localhost:8080" help:"Base URL of the kernel's admission/ops HTTP surface."`
	Timeout  time.Duration `name:"timeout" default:"10s" help:"HTTP request timeout."`

	Status   statusCmd   `cmd:"" help:"Print the andon operational indicator."`
	Ack      ackCmd      `cmd:"" help:"Acknowledge a Red andon trip and clear it."`
	Rollback rollbackCmd `cmd:"" help:"Roll the current descriptor back to a prior snapshot."`
	Receipts receiptsCmd `cmd:"" help:"Inspect the receipt log."`
}

// client binds to every subcommand via kong.Context so Run methods don't
// each reconstruct an http.Client from the root flags.
type client struct {
	endpoint string
	http     *http.Client
}

func (c *client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("knhk-cli: %s %s: %s: %s", method, path, resp.Status, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

type statusCmd struct{}

func (s *statusCmd) Run(c *client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var status struct {
		State      string `json:"state"`
		ShouldGate bool   `json:"should_gate"`
	}
	if err := c.get(ctx, "/andon", &status); err != nil {
		return err
	}
	fmt.Printf("andon: %s (gating admission: %t)\n", status.State, status.ShouldGate)
	return nil
}

type ackCmd struct {
	Operator string `arg:"" help:"Name or ID of the operator acknowledging the trip."`
}

func (a *ackCmd) Run(c *client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var status struct {
		State string `json:"state"`
	}
	if err := c.post(ctx, "/andon/ack", map[string]string{"operator": a.Operator}, &status); err != nil {
		return err
	}
	fmt.Printf("acknowledged; andon: %s\n", status.State)
	return nil
}

type rollbackCmd struct {
	SnapshotID string `arg:"" name:"snapshot-id" help:"Snapshot ID to roll the current descriptor back to."`
}

func (r *rollbackCmd) Run(c *client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result struct {
		RolledBackTo string `json:"rolled_back_to"`
	}
	if err := c.post(ctx, "/rollback", map[string]string{"snapshot_id": r.SnapshotID}, &result); err != nil {
		return err
	}
	fmt.Printf("rolled back to snapshot %s\n", result.RolledBackTo)
	return nil
}

type receiptsCmd struct {
	Workflow   string `name:"workflow" help:"Filter receipts by workflow instance ID."`
	Snapshot   string `name:"snapshot" help:"Filter receipts by snapshot ID."`
	Violations bool   `name:"violations" help:"List only tick-budget or guard violation receipts."`
}

func (r *receiptsCmd) Run(c *client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := "/receipts"
	switch {
	case r.Violations:
		path += "?violations=true"
	case r.Workflow != "":
		path += "?workflow=" + r.Workflow
	case r.Snapshot != "":
		path += "?snapshot=" + r.Snapshot
	}

	var raw json.RawMessage
	if err := c.get(ctx, path, &raw); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func main() {
	c := cli{}
	parser := kong.Must(&c,
		kong.Name("knhk-cli"),
		kong.Description("Operator CLI for the knhk workflow kernel."),
	)

	kongCtx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	kongCtx.Bind(&client{endpoint: c.Endpoint, http: &http.Client{Timeout: c.Timeout}})
	parser.FatalIfErrorf(kongCtx.Run())
}
