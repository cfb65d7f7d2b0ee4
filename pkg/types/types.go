package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// App is the configuration record of a deployable application role
type App struct {
	ID                string       `json:"id" yaml:"id"`
	Name              string       `json:"name" yaml:"name"`
	Env               string       `json:"env" yaml:"env"`
	Role              string       `json:"role" yaml:"role"`
	Region            string       `json:"region" yaml:"region"`
	Provider          string       `json:"provider,omitempty" yaml:"provider,omitempty"`
	AssumedAccountID  string       `json:"assumed_account_id,omitempty" yaml:"assumed_account_id,omitempty"`
	AssumedRoleName   string       `json:"assumed_role_name,omitempty" yaml:"assumed_role_name,omitempty"`
	AssumedRegionName string       `json:"assumed_region_name,omitempty" yaml:"assumed_region_name,omitempty"`
	InstanceType      string       `json:"instance_type,omitempty" yaml:"instance_type,omitempty"`
	AMI               string       `json:"ami,omitempty" yaml:"ami,omitempty"`
	BuildInfos        *BuildInfos  `json:"build_infos,omitempty" yaml:"build_infos,omitempty"`
	Environment       *Environment `json:"environment_infos,omitempty" yaml:"environment_infos,omitempty"`
	Modules           []*Module    `json:"modules" yaml:"modules"`
	Autoscale         *Autoscale   `json:"autoscale,omitempty" yaml:"autoscale,omitempty"`
	BlueGreen         *BlueGreen   `json:"blue_green,omitempty" yaml:"blue_green,omitempty"`
	User              string       `json:"user,omitempty" yaml:"user,omitempty"`

	// Version is bumped by the repository on every write
	Version   int       `json:"version" yaml:"-"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// BuildInfos describes the image build that produced App.AMI
type BuildInfos struct {
	AMIName   string `json:"ami_name,omitempty" yaml:"ami_name,omitempty"`
	SourceAMI string `json:"source_ami,omitempty" yaml:"source_ami,omitempty"`
	SubnetID  string `json:"subnet_id,omitempty" yaml:"subnet_id,omitempty"`
}

// Environment holds the instance-level settings used for launch configurations
type Environment struct {
	KeyName         string   `json:"key_name,omitempty" yaml:"key_name,omitempty"`
	InstanceProfile string   `json:"instance_profile,omitempty" yaml:"instance_profile,omitempty"`
	SecurityGroups  []string `json:"security_groups,omitempty" yaml:"security_groups,omitempty"`
	Subnets         []string `json:"subnet_ids,omitempty" yaml:"subnet_ids,omitempty"`
}

// Module is one deployable unit of an App
type Module struct {
	Name        string      `json:"name" yaml:"name"`
	GitRepo     string      `json:"git_repo" yaml:"git_repo"`
	Scope       ModuleScope `json:"scope" yaml:"scope"`
	Initialized bool        `json:"initialized" yaml:"initialized"`
	Path        string      `json:"path" yaml:"path"`
	PreDeploy   string      `json:"pre_deploy,omitempty" yaml:"pre_deploy,omitempty"`
	PostDeploy  string      `json:"post_deploy,omitempty" yaml:"post_deploy,omitempty"`
}

// ModuleScope tells where a module is deployed on the host
type ModuleScope string

const (
	ModuleScopeSystem ModuleScope = "system"
	ModuleScopeCode   ModuleScope = "code"
)

// Autoscale is the cached mirror of the App's autoscaling group
type Autoscale struct {
	Name    string `json:"name" yaml:"name"`
	Min     int    `json:"min" yaml:"min"`
	Max     int    `json:"max" yaml:"max"`
	Current int    `json:"current" yaml:"current"`
}

// HasGroup reports whether an autoscaling group name is configured
func (a *Autoscale) HasGroup() bool {
	return a != nil && a.Name != ""
}

// Color identifies one side of a blue/green pair
type Color string

const (
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
)

// Opposite returns the other color of the pair. Anything that is not green
// is treated as blue.
func (c Color) Opposite() Color {
	if c == ColorGreen {
		return ColorBlue
	}
	return ColorGreen
}

// BlueGreen is the blue/green state of an App. At most one App of a pair is online.
type BlueGreen struct {
	Enabled    bool   `json:"enable_blue_green" yaml:"enable_blue_green"`
	Color      Color  `json:"color" yaml:"color"`
	IsOnline   bool   `json:"is_online" yaml:"is_online"`
	AlterEgoID string `json:"alter_ego_id,omitempty" yaml:"alter_ego_id,omitempty"`
}

// Module returns the module with the given name, or nil
func (a *App) Module(name string) *Module {
	for _, m := range a.Modules {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Color returns the blue/green color of the app, or "" if not blue/green enabled
func (a *App) Color() Color {
	if a.BlueGreen == nil {
		return ""
	}
	return a.BlueGreen.Color
}

// AutoscaleName returns the configured autoscaling group name, or ""
func (a *App) AutoscaleName() string {
	if a.Autoscale == nil {
		return ""
	}
	return a.Autoscale.Name
}

// FriendlyName is used in notifications
func (a *App) FriendlyName() string {
	name := fmt.Sprintf("%s/%s/%s", a.Name, a.Env, a.Role)
	if c := a.Color(); c != "" {
		name += "/" + string(c)
	}
	return name
}

var appNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+$`)

// pathSegment reports whether s can be used as one directory level of a
// working copy path
func pathSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// Validate checks the record at the boundary where it enters the core
func (a *App) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("app id is required")
	}
	if !appNamePattern.MatchString(a.Name) || !pathSegment(a.Name) {
		return fmt.Errorf("invalid app name %q", a.Name)
	}
	if a.Env == "" || a.Role == "" {
		return fmt.Errorf("app %s: env and role are required", a.Name)
	}
	if !pathSegment(a.Env) || !pathSegment(a.Role) {
		return fmt.Errorf("app %s: invalid env %q or role %q", a.Name, a.Env, a.Role)
	}
	if a.Region == "" {
		return fmt.Errorf("app %s: region is required", a.Name)
	}

	seen := make(map[string]bool, len(a.Modules))
	for _, m := range a.Modules {
		if m.Name == "" {
			return fmt.Errorf("app %s: module without name", a.Name)
		}
		if !pathSegment(m.Name) {
			return fmt.Errorf("app %s: invalid module name %q", a.Name, m.Name)
		}
		// The manifest format has no escaping for ':'
		if strings.Contains(m.Name, ":") || strings.Contains(m.Path, ":") {
			return fmt.Errorf("app %s: module %s: ':' is not allowed in name or path", a.Name, m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("app %s: duplicate module %s", a.Name, m.Name)
		}
		seen[m.Name] = true
		switch m.Scope {
		case "", ModuleScopeCode, ModuleScopeSystem:
		default:
			return fmt.Errorf("app %s: module %s: invalid scope %q", a.Name, m.Name, m.Scope)
		}
	}

	if a.BlueGreen != nil && a.BlueGreen.Color != "" &&
		a.BlueGreen.Color != ColorBlue && a.BlueGreen.Color != ColorGreen {
		return fmt.Errorf("app %s: invalid blue/green color %q", a.Name, a.BlueGreen.Color)
	}
	return nil
}

// Job is a unit of work handed to the orchestrator
type Job struct {
	ID        string            `json:"id" yaml:"id"`
	AppID     string            `json:"app_id" yaml:"app_id"`
	Command   string            `json:"command" yaml:"command"`
	Modules   []*ModuleSelector `json:"modules,omitempty" yaml:"modules,omitempty"`
	Options   []string          `json:"options,omitempty" yaml:"options,omitempty"`
	User      string            `json:"user,omitempty" yaml:"user,omitempty"`
	Status    JobStatus         `json:"status" yaml:"-"`
	Message   string            `json:"message,omitempty" yaml:"-"`
	CreatedAt time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt time.Time         `json:"updated_at" yaml:"-"`
}

// ModuleSelector names a module of the App and an optional revision
type ModuleSelector struct {
	Name string `json:"name" yaml:"name"`
	Rev  string `json:"rev,omitempty" yaml:"rev,omitempty"`
}

// Option returns the i-th positional option, or "" when absent
func (j *Job) Option(i int) string {
	if i < 0 || i >= len(j.Options) {
		return ""
	}
	return j.Options[i]
}

// JobStatus is the lifecycle state of a Job
type JobStatus string

const (
	JobStatusInit    JobStatus = "init"
	JobStatusStarted JobStatus = "started"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
	JobStatusAborted JobStatus = "aborted"
)

// Terminal reports whether the status ends a job
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusAborted
}

// DeploymentRecord is the append-only record of a successful module deployment
type DeploymentRecord struct {
	ID         string `json:"id"`
	AppID      string `json:"app_id"`
	JobID      string `json:"job_id"`
	Module     string `json:"module"`
	Commit     string `json:"commit"`
	Package    string `json:"package"`
	ModulePath string `json:"module_path"`
	// Timestamp is seconds since epoch, UTC
	Timestamp int64 `json:"timestamp"`
}
