// Package setup verifies that pg_stat_statements is installed and configured
// on a target database.
package setup

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/postgres"
)

// Check names, in the order they run.
const (
	CheckConnect          = "connect"
	CheckServerVersion    = "server_version"
	CheckServerVersionNum = "server_version_num"
	CheckPreload          = "shared_preload_libraries"
	CheckAvailable        = "extension_available"
	CheckCreated          = "extension_created"
	CheckStatsPrivilege   = "stats_privilege"
)

var checkOrder = []string{
	CheckConnect, CheckServerVersion, CheckServerVersionNum, CheckPreload,
	CheckAvailable, CheckCreated, CheckStatsPrivilege,
}

// paramNames are reported verbatim when readable.
var paramNames = []string{
	"pg_stat_statements.track",
	"pg_stat_statements.max",
	"pg_stat_statements.save",
	"pg_stat_statements.track_utility",
}

// Prober is the read-only surface of a target connection.
type Prober interface {
	ServerVersion(ctx context.Context) (string, error)
	ServerVersionNum(ctx context.Context) (int, error)
	Show(ctx context.Context, name string) (string, error)
	ExtensionAvailable(ctx context.Context, name string) (bool, error)
	ExtensionCreated(ctx context.Context, name string) (bool, error)
	CanReadAllStats(ctx context.Context) (bool, error)
	Close()
}

// Dialer opens a Prober for a target.
type Dialer func(ctx context.Context, desc model.ConnDescriptor) (Prober, error)

// PostgresDialer dials real targets with cfg.
func PostgresDialer(cfg postgres.Config) Dialer {
	return func(ctx context.Context, desc model.ConnDescriptor) (Prober, error) {
		insp, err := postgres.Connect(ctx, desc, cfg)
		if err != nil {
			return nil, err
		}
		return insp, nil
	}
}

// Checker runs setup checks.
type Checker struct {
	dial Dialer
	now  func() time.Time
}

// NewChecker returns a Checker using dial to reach targets.
func NewChecker(dial Dialer) *Checker {
	return &Checker{dial: dial, now: time.Now}
}

// Check probes the target and returns a complete verdict. Target failures
// are reported in the result, never as an error.
func (c *Checker) Check(ctx context.Context, desc model.ConnDescriptor) (info model.SetupInfo) {
	info = model.SetupInfo{
		InstanceID: desc.InstanceID,
		Params:     map[string]string{},
	}
	for _, name := range checkOrder {
		info.Checks.Set(name, nil)
	}
	defer func() {
		info.Ready = info.PreloadOK && info.ExtCreated
		info.CheckedAt = c.now().UTC()
	}()

	p, err := c.dial(ctx, desc)
	if err != nil {
		info.Checks.Set(CheckConnect, false)
		c.fail(&info, desc, err)
		return info
	}
	defer p.Close()
	info.Checks.Set(CheckConnect, true)

	version, err := p.ServerVersion(ctx)
	if err != nil {
		c.fail(&info, desc, err)
		return info
	}
	info.Version = version
	info.Checks.Set(CheckServerVersion, version)

	num, err := p.ServerVersionNum(ctx)
	if err != nil {
		c.fail(&info, desc, err)
		return info
	}
	info.PGVersionNum = &num
	info.MajorVersion = num / 10000
	info.Checks.Set(CheckServerVersionNum, num)

	libs, err := p.Show(ctx, "shared_preload_libraries")
	if err != nil {
		c.fail(&info, desc, err)
		return info
	}
	info.PreloadOK = ContainsLibrary(libs, postgres.ExtensionName)
	info.Checks.Set(CheckPreload, libs)

	available, err := p.ExtensionAvailable(ctx, postgres.ExtensionName)
	if err != nil {
		slog.Debug("extension availability probe failed", "instance", desc.InstanceID, "error", err)
	} else {
		info.Checks.Set(CheckAvailable, available)
	}

	created, err := p.ExtensionCreated(ctx, postgres.ExtensionName)
	if err != nil {
		c.fail(&info, desc, err)
		return info
	}
	info.ExtCreated = created
	info.Checks.Set(CheckCreated, created)

	for _, name := range paramNames {
		if v, err := p.Show(ctx, name); err == nil {
			info.Params[name] = v
		}
	}

	allStats, err := p.CanReadAllStats(ctx)
	if err != nil {
		slog.Debug("stats privilege probe failed", "instance", desc.InstanceID, "error", err)
	} else {
		info.Checks.Set(CheckStatsPrivilege, allStats)
	}

	switch {
	case !info.PreloadOK:
		info.Status = model.StatusPreloadMissing
		info.Guide = append(info.Guide,
			"add pg_stat_statements to shared_preload_libraries in postgresql.conf (current value: '"+libs+"')",
			"restart the server; shared_preload_libraries is only read at startup",
		)
		if !info.ExtCreated {
			info.Guide = append(info.Guide, "after the restart run: CREATE EXTENSION pg_stat_statements; in database "+desc.DBName)
		}
	case !info.ExtCreated:
		info.Status = model.StatusExtensionMissing
		info.Guide = append(info.Guide, "run: CREATE EXTENSION pg_stat_statements; in database "+desc.DBName)
	default:
		info.Status = model.StatusReady
	}
	if v, ok := info.Checks.Get(CheckAvailable); ok && v == false {
		info.Guide = append(info.Guide, "install the server contrib package that ships pg_stat_statements")
	}
	if v, ok := info.Checks.Get(CheckStatsPrivilege); ok && v == false {
		info.Guide = append(info.Guide, "GRANT pg_read_all_stats TO "+desc.User+"; to see statements run by other roles")
	}

	slog.Debug("setup checked", "instance", desc.InstanceID, "status", info.Status, "version", info.Version)
	return info
}

// fail records a probe failure and picks the status from its kind.
func (c *Checker) fail(info *model.SetupInfo, desc model.ConnDescriptor, err error) {
	kind := apperr.KindOf(err)
	info.Error = &model.ErrorDetail{Kind: string(kind), Detail: apperr.Message(err)}

	switch kind {
	case apperr.Auth:
		info.Status = model.StatusAuthFailed
		info.Guide = append(info.Guide, "verify the user name and rotate the stored password for instance "+desc.InstanceID)
	case apperr.Permission:
		info.Status = model.StatusPermissionDenied
		info.Guide = append(info.Guide,
			"GRANT pg_read_all_settings, pg_read_all_stats TO "+desc.User+"; or run the check as a superuser")
	case apperr.Connection:
		info.Status = model.StatusConnectionFailed
		info.Guide = append(info.Guide,
			"verify host, port, dbname and ssl_mode, and that pg_hba.conf admits this client")
	default:
		if connected, _ := info.Checks.Get(CheckConnect); connected != true {
			info.Status = model.StatusConnectionFailed
			info.Guide = append(info.Guide,
				"verify host, port, dbname and ssl_mode, and that pg_hba.conf admits this client")
			break
		}
		info.Status = model.StatusCheckFailed
		info.Guide = append(info.Guide,
			"the server accepted the connection but a setup query failed; see the error detail and rerun the check")
	}
	slog.Warn("setup check failed", "instance", desc.InstanceID, "status", info.Status, "error", err)
}

// ContainsLibrary reports whether lib is an element of a
// shared_preload_libraries value.
func ContainsLibrary(value, lib string) bool {
	for _, item := range strings.Split(value, ",") {
		item = strings.Trim(strings.TrimSpace(item), `"'`)
		item = strings.TrimPrefix(item, "$libdir/")
		if item == lib {
			return true
		}
	}
	return false
}
