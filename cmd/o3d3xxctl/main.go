// Package main is a command line client for the bridge's admin surface.
//
//	o3d3xxctl version
//	o3d3xxctl dump > camera.json
//	o3d3xxctl config camera.json
//	o3d3xxctl rm 2
//	o3d3xxctl status
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

var logger = golog.NewDevelopmentLogger("o3d3xxctl")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Addr    string `flag:"addr,default=http://127.0.0.1:8080,usage=bridge admin address"`
	Command string `flag:"0"`
	Arg     string `flag:"1"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Command == "" {
		return errors.New("usage: o3d3xxctl [--addr=...] version|dump|config|rm|status [arg]")
	}
	return runCommand(ctx, argsParsed)
}

type opReply struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

func runCommand(ctx context.Context, args Arguments) error {
	client := &http.Client{Timeout: 30 * time.Second}
	base := strings.TrimSuffix(args.Addr, "/")

	switch args.Command {
	case "version":
		var reply struct {
			Version string `json:"version"`
		}
		if err := doJSON(ctx, client, http.MethodGet, base+"/api/v1/version", nil, &reply); err != nil {
			return err
		}
		fmt.Println(reply.Version)
		return nil
	case "dump":
		var reply struct {
			Status int             `json:"status"`
			Config json.RawMessage `json:"config"`
		}
		if err := doJSON(ctx, client, http.MethodGet, base+"/api/v1/config", nil, &reply); err != nil {
			return err
		}
		if reply.Status != 0 {
			return errors.Errorf("dump failed with status %d", reply.Status)
		}
		var indented bytes.Buffer
		if err := json.Indent(&indented, reply.Config, "", "  "); err != nil {
			return errors.Wrap(err, "malformed config document")
		}
		fmt.Println(indented.String())
		return nil
	case "config":
		doc, err := readDocument(args.Arg)
		if err != nil {
			return err
		}
		var reply opReply
		if err := doJSON(ctx, client, http.MethodPut, base+"/api/v1/config", doc, &reply); err != nil {
			return err
		}
		return reportOp(reply)
	case "rm":
		if args.Arg == "" {
			return errors.New("rm needs an application index")
		}
		var reply opReply
		url := base + "/api/v1/applications/" + args.Arg
		if err := doJSON(ctx, client, http.MethodDelete, url, nil, &reply); err != nil {
			return err
		}
		return reportOp(reply)
	case "status":
		var reply map[string]interface{}
		if err := doJSON(ctx, client, http.MethodGet, base+"/status", nil, &reply); err != nil {
			return err
		}
		indented, err := json.MarshalIndent(reply, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(indented))
		return nil
	default:
		return errors.Errorf("unknown command %q (want version, dump, config, rm or status)", args.Command)
	}
}

// readDocument loads the config body from a file, or stdin when the
// path is empty or "-".
func readDocument(path string) ([]byte, error) {
	if path == "" || path == "-" {
		doc, err := io.ReadAll(os.Stdin)
		return doc, errors.Wrap(err, "read stdin")
	}
	doc, err := os.ReadFile(path)
	return doc, errors.Wrapf(err, "read %s", path)
}

func reportOp(reply opReply) error {
	if reply.Status != 0 {
		return errors.Errorf("%s (status %d)", reply.Msg, reply.Status)
	}
	fmt.Println(reply.Msg)
	return nil
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body []byte, out interface{}) (err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, url)
	}
	defer func() {
		err = multierr.Combine(err, resp.Body.Close())
	}()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s %s: unexpected HTTP %d", method, url, resp.StatusCode)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
