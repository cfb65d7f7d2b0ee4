/*
Package types defines the domain records shared by every ghost component.

# Records

  - App: configuration of one application role (name/env/role) in a region,
    with its modules, cached autoscaling descriptor and blue/green state.
  - Module: one deployable source repository of an App.
  - Job: a command handed to the orchestrator for one App.
  - DeploymentRecord: append-only history entry written after a module deploy.

Apps and Jobs are owned by the storage layer. Components receive a snapshot of
an App for the duration of a job and only write back specific fields through
the repository (autoscale sizing, AMI, module initialization, blue/green state).

# Blue/green

A blue/green pair is two Apps sharing name, env and role, linked through
BlueGreen.AlterEgoID. At most one of the two may have IsOnline set; a pair
with both online is corrupt and every blue/green operation refuses to run.

# Validation

App.Validate is called once when a record enters the core (import, job
execution). Module names and paths may not contain ':' because the manifest
wire format does not escape it.
*/
package types
