/*
Package runtime hosts the adapter: the root container of the component tree.

# Package Structure

  - component/: the Component contract, the lifecycle state machine and the
    out-of-state policies
  - lifecycle/: default (abort and roll back) and best-effort strategies
  - message/: Watermill messages with a shared success-callback slot
  - errhandler/: parent registration, failure propagation and digests
  - workflow/: stages, output stage, produce exception policies and workers
  - channel/: a transport plus its ordered workflows
  - retry/: the retry queue, its scheduler, metrics and HTTP surface
  - config/, errors/, ids/, jsoncodec/, logging/, metadata/, transport/:
    supporting packages

# Service (service.go)

TryNewService turns a config.Config into a tree of channels and workflows,
resolving stage names through ServiceDependencies. The retry handler is the
first child so it is running before any channel reports a failure. Run
drives Init and Start, then runs the retry scheduler and the management
server under an errgroup until the context is cancelled, and closes the
tree on the way out.

# Usage Example

	conf, err := config.Load("adapter.yaml")
	if err != nil {
		return err
	}
	svc, err := runtime.TryNewService(conf, logger, runtime.ServiceDependencies{
		Stages: map[string]workflow.Stage{"enrich": enrichStage},
	})
	if err != nil {
		return err
	}
	return svc.Run(ctx)
*/
package runtime
