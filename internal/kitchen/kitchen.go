// Package kitchen implements the supervisor that turns a configuration into
// a running kitchen: it seeds the oven pool, launches every agent as an
// independent goroutine with its own board client, and evaluates the
// kitchen-level operability condition.
package kitchen

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/forno/internal/camera"
	"github.com/dyluth/forno/internal/config"
	"github.com/dyluth/forno/internal/logsink"
	"github.com/dyluth/forno/internal/manager"
	"github.com/dyluth/forno/internal/robot"
	"github.com/dyluth/forno/pkg/board"
)

// Kitchen wires a configuration to a Redis instance and runs the kitchen's
// agents to completion.
type Kitchen struct {
	cfg          *config.KitchenConfig
	redisOpts    *redis.Options
	instanceName string
	logOut       io.Writer // nil disables the in-process log sink

	clients []*board.Client
	wg      sync.WaitGroup
}

// New creates a kitchen for the given configuration. logOut, when non-nil,
// receives the instance's log channel output for the duration of the run.
func New(cfg *config.KitchenConfig, redisOpts *redis.Options, instanceName string, logOut io.Writer) *Kitchen {
	return &Kitchen{
		cfg:          cfg,
		redisOpts:    redisOpts,
		instanceName: instanceName,
		logOut:       logOut,
	}
}

// Run resets the instance keyspace, seeds the ovens and runs every agent
// until the context is cancelled or the kitchen stops being operable.
// Agents finish the order in their hands before stopping; Run returns once
// all of them have exited.
func (k *Kitchen) Run(ctx context.Context) error {
	defer k.closeClients()

	root, err := k.newClient()
	if err != nil {
		return err
	}
	if err := root.Ping(ctx); err != nil {
		return fmt.Errorf("redis is not reachable: %w", err)
	}
	if err := root.Reset(ctx); err != nil {
		return err
	}

	ovenCount := k.cfg.OvenCount()
	for ovenID := 0; ovenID < ovenCount; ovenID++ {
		if err := root.AddFreeOven(ctx, ovenID); err != nil {
			return err
		}
	}

	timing, err := k.cfg.ActionTiming()
	if err != nil {
		return err
	}

	// agentCtx is what shuts the agents down: cancelled by the caller's
	// context or by the operability watcher, whichever comes first.
	agentCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	// The watcher subscribes before any robot can fail.
	failures, err := root.SubscribeRobotFailures(agentCtx)
	if err != nil {
		return err
	}
	robots := k.cfg.Robots()
	k.wg.Add(1)
	go k.watchOperability(agentCtx, stop, root, failures, robots, ovenCount)

	if k.logOut != nil {
		sinkClient, err := k.newClient()
		if err != nil {
			return err
		}
		k.launch("log sink", func() error {
			return logsink.Run(agentCtx, sinkClient, k.logOut)
		})
	}

	// Cameras must be subscribed before any robot publishes a completion.
	for _, spec := range k.cfg.Cameras() {
		camClient, err := k.newClient()
		if err != nil {
			return err
		}
		cam := camera.New(spec.RobotID, spec.Operation, camClient)
		k.launch(fmt.Sprintf("camera %s/%d", spec.Operation, spec.RobotID), func() error {
			return cam.Run(agentCtx)
		})
		select {
		case <-cam.Ready():
		case <-agentCtx.Done():
			k.wg.Wait()
			return agentCtx.Err()
		}
	}

	for _, spec := range robots {
		robotClient, err := k.newClient()
		if err != nil {
			return err
		}
		eng := robot.New(robot.Config{
			ID:          spec.ID,
			Position:    spec.Position,
			Operations:  spec.Operations,
			Timing:      timing,
			Reliability: k.cfg.Reliability,
		}, robotClient)
		k.launch(fmt.Sprintf("robot %d", spec.ID), func() error {
			return eng.Run(agentCtx)
		})
	}

	mgrClient, err := k.newClient()
	if err != nil {
		return err
	}
	mgr := manager.New(k.cfg.Tasks, mgrClient)
	k.launch("manager", func() error {
		return mgr.Run(agentCtx)
	})

	log.Printf("[Kitchen] instance '%s' running: %d robots, %d ovens", k.instanceName, len(robots), ovenCount)
	_ = root.PublishLog(agentCtx, "kitchen: started")

	k.wg.Wait()
	_ = root.PublishLog(context.WithoutCancel(ctx), "kitchen: stopped")
	log.Printf("[Kitchen] instance '%s' stopped", k.instanceName)
	return nil
}

// watchOperability tracks robot failures and failsafe ovens and shuts the
// kitchen down when it can no longer make progress: no active robot on one
// side of the pipeline, or no usable oven left. This derived condition is
// the controller's call, never an individual robot's.
func (k *Kitchen) watchOperability(ctx context.Context, stop context.CancelFunc, client *board.Client, failures *board.FailureSubscription, robots []config.RobotSpec, ovenCount int) {
	defer k.wg.Done()
	defer failures.Close()

	active := map[board.Position]int{}
	for _, spec := range robots {
		active[spec.Position]++
	}

	for {
		select {
		case <-ctx.Done():
			return

		case failure, ok := <-failures.Events():
			if !ok {
				return
			}
			active[failure.Position]--
			log.Printf("[Kitchen] robot %d (%s) failed; %d pre-oven and %d post-oven robots remain",
				failure.RobotID, failure.Position, active[board.PositionPreOven], active[board.PositionPostOven])

			failsafe, err := client.FailsafeCount(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Kitchen] failed to count failsafe ovens: %v", err)
				continue
			}
			usable := ovenCount - int(failsafe)

			if active[board.PositionPreOven] == 0 || active[board.PositionPostOven] == 0 || usable == 0 {
				log.Printf("[Kitchen] kitchen no longer operable (pre=%d, post=%d, usable ovens=%d), shutting down",
					active[board.PositionPreOven], active[board.PositionPostOven], usable)
				_ = client.PublishLog(context.WithoutCancel(ctx), "kitchen: no longer operable, shutting down")
				stop()
				return
			}

		case err, ok := <-failures.Errors():
			if ok && err != nil {
				log.Printf("[Kitchen] failure subscription error: %v", err)
			}
		}
	}
}

// launch runs an agent goroutine under the kitchen's WaitGroup, logging a
// non-clean exit. Single-agent errors never abort the rest of the kitchen.
func (k *Kitchen) launch(name string, run func() error) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		if err := run(); err != nil {
			log.Printf("[Kitchen] %s exited with error: %v", name, err)
		}
	}()
}

func (k *Kitchen) newClient() (*board.Client, error) {
	client, err := board.NewClient(k.redisOpts, k.instanceName)
	if err != nil {
		return nil, err
	}
	k.clients = append(k.clients, client)
	return client, nil
}

func (k *Kitchen) closeClients() {
	for _, client := range k.clients {
		client.Close()
	}
	k.clients = nil
}
