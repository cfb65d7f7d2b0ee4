/*
Package events provides an in-memory broker for job lifecycle events.

Workers publish an event when a job is picked up and when it reaches its
terminal status. Subscribers (the CLI in serve mode, tests) receive every
event on a buffered channel.

# Architecture

	Publisher → event channel (buffer: 100)
	                │
	          broadcast loop
	                │
	   subscriber channels (buffer: 50 each)

Publishing never blocks on a slow subscriber: when a subscriber buffer is
full the event is dropped for that subscriber only. Events are not persisted;
the job store is the source of truth for job status.

# Event Types

  - job.queued: a job was created
  - job.started: a worker picked the job
  - job.done, job.failed, job.aborted: the single terminal status

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Printf("%s %s %s\n", event.Type, event.JobID, event.Message)
	}
*/
package events
