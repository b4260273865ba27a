package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/JakeFAU/album-publisher/internal/browser"
	"github.com/JakeFAU/album-publisher/internal/config"
	"github.com/JakeFAU/album-publisher/internal/source"
)

// setupListLimit caps how many asset files check-setup lists.
const setupListLimit = 10

// Check is one line of a setup report.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// SetupReport is what check-setup prints.
type SetupReport struct {
	Checks []Check
	Tabs   []string
	Header []string
	Files  []string
}

// OK reports whether every check passed.
func (r SetupReport) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func (r *SetupReport) add(name string, err error, detail string) bool {
	c := Check{Name: name, OK: err == nil, Detail: detail}
	if err != nil {
		c.Detail = err.Error()
	}
	r.Checks = append(r.Checks, c)
	return err == nil
}

// CheckSetup verifies credentials, the job spreadsheet, and the asset
// folder. It keeps going after a failure where later checks do not depend
// on it.
func (a *App) CheckSetup(ctx context.Context) SetupReport {
	var report SetupReport
	report.add("config", a.cfg.Validate(), "valid")
	report.add("service account", nil, a.serviceAccount())

	a.checkSheet(ctx, &report)
	a.checkAssets(ctx, &report)
	return report
}

func (a *App) serviceAccount() string {
	if a.cfg.Google.CredentialsJSON == "" {
		if a.cfg.Google.CredentialsFile != "" {
			return "file " + a.cfg.Google.CredentialsFile
		}
		return "application default credentials"
	}
	var info struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal([]byte(a.cfg.Google.CredentialsJSON), &info); err != nil || info.ClientEmail == "" {
		return "inline json"
	}
	return info.ClientEmail + " (share the sheet and folder with this address)"
}

func (a *App) checkSheet(ctx context.Context, report *SetupReport) {
	src, err := a.Source(ctx)
	if !report.add("sheets client", err, a.cfg.Sheet.SpreadsheetID) {
		return
	}
	tabs, err := src.Tabs(ctx)
	if !report.add("spreadsheet", err, fmt.Sprintf("%d tabs", len(tabs))) {
		return
	}
	report.Tabs = tabs
	if !slices.Contains(tabs, a.cfg.Sheet.Tab) {
		report.add("job tab", fmt.Errorf("tab %q not found", a.cfg.Sheet.Tab), "")
		return
	}
	report.add("job tab", nil, a.cfg.Sheet.Tab)

	header, err := src.Header(ctx)
	if !report.add("header", err, strings.Join(header, ", ")) {
		return
	}
	report.Header = header
	row := make([]any, len(header))
	for i, h := range header {
		row[i] = h
	}
	_, err = source.ParseHeader(row)
	report.add("status column", err, "present")
}

func (a *App) checkAssets(ctx context.Context, report *SetupReport) {
	switch a.cfg.Assets.Backend {
	case config.BackendGCS:
		f, err := a.GCSFetcher(ctx)
		if !report.add("storage client", err, "gs://"+a.cfg.Assets.Bucket) {
			return
		}
		objs, err := f.List(ctx, setupListLimit)
		if !report.add("asset bucket", err, fmt.Sprintf("%d objects listed", len(objs))) {
			return
		}
		for _, o := range objs {
			report.Files = append(report.Files, o.Name)
		}
	default:
		f, err := a.DriveFetcher(ctx)
		if !report.add("drive client", err, a.cfg.Assets.FolderID) {
			return
		}
		files, err := f.List(ctx, setupListLimit)
		if !report.add("asset folder", err, fmt.Sprintf("%d files listed", len(files))) {
			return
		}
		for _, file := range files {
			report.Files = append(report.Files, file.Name)
		}
	}
}

// ProxyReport compares the public address seen with and without the proxy.
type ProxyReport struct {
	Proxy   string
	Direct  string
	Proxied string
}

// Working reports whether traffic left through a different address.
func (r ProxyReport) Working() bool {
	return r.Proxied != "" && r.Direct != r.Proxied
}

// CheckProxy asks proxy.echo_url for the caller's address directly and
// through the proxy.
func (a *App) CheckProxy(ctx context.Context) (ProxyReport, error) {
	if !a.cfg.Proxy.Enabled {
		return ProxyReport{}, errors.New("proxy is not enabled")
	}
	proxied, err := browser.New(a.cfg.BrowserOptions(), a.logger)
	if err != nil {
		return ProxyReport{}, err
	}
	defer proxied.Close()
	direct, err := browser.New(browser.Config{RequestTimeout: a.cfg.Browser.RequestTimeout}, a.logger)
	if err != nil {
		return ProxyReport{}, err
	}
	defer direct.Close()
	return compareEcho(ctx, a.cfg.Proxy.EchoURL, a.cfg.BrowserOptions().Proxy.Server(), direct, proxied)
}

type echoer interface {
	CheckProxy(ctx context.Context, target string) (int, string, error)
}

func compareEcho(ctx context.Context, target, proxy string, direct, proxied echoer) (ProxyReport, error) {
	report := ProxyReport{Proxy: proxy}
	ip, err := echo(ctx, direct, target)
	if err != nil {
		return report, fmt.Errorf("direct request: %w", err)
	}
	report.Direct = ip
	ip, err = echo(ctx, proxied, target)
	if err != nil {
		return report, fmt.Errorf("proxied request: %w", err)
	}
	report.Proxied = ip
	return report, nil
}

func echo(ctx context.Context, e echoer, target string) (string, error) {
	status, body, err := e.CheckProxy(ctx, target)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%s returned %d", target, status)
	}
	return body, nil
}

