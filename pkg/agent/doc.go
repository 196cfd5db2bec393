// Package agent builds the agents that answer a run and exposes their output
// as a pull-based event Stream.
//
// Invariants:
// - A producer is never more than one event ahead of the consumer.
// - Closing a Stream cancels the producer's context.
// - Backend tool calls route through the MCP registry only, via ToolSet.
//
// Usage:
//
//	factory, _ := agent.NewFactory(agent.Config{Provider: "echo"}, tools, logger)
//	a, _ := factory.New(ctx, input)
//	stream := a.Run(ctx, input)
//	defer stream.Close()
//	for stream.Next() {
//		evt := stream.Current()
//		_ = evt
//	}
//	if err := stream.Err(); err != nil {
//		// run failed
//	}
package agent
