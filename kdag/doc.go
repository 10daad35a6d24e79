// Package kdag provides a Directed Acyclic Graph (DAG) builder for stream processing topologies.
//
// # Overview
//
// kdag enables construction of type-safe, validated stream processing DAGs.
// The package separates build-time graph construction from runtime execution through
// a two-phase architecture:
//
// 1. **Build Phase**: Construct a type-safe DAG using generic registration functions
// 2. **Runtime Phase**: Execute the DAG with type-erased but validated nodes
//
// # Architecture
//
// The DAG stores type-erased nodes and keeps their generic types as reflect.Type values:
//
//   - **Builder**: Provides structural methods (AddSourceNode, AddProcessorNode,
//     AddSinkNode) used by the generic registration functions of the execution package
//   - **Graph**: Stores type-erased nodes, their edges and the registered stores
//   - **Node**: Build-time representation with reflect.Type signatures and a RuntimeBuilder
//   - **DAG**: Validated, immutable graph ready for execution
//
// During registration, the key and value types of each node are recorded as
// reflect.Type values, and Node.ValidateDownstream compares a parent's output types
// with a child's input types. The typed construction of the runtime node is held by
// the node's RuntimeBuilder, so generic parameters are not carried through the graph.
//
// # Basic Usage
//
// The registration functions (RegisterSource, RegisterProcessor, RegisterSink and
// their Must* variants) are in the execution package.
//
//	import (
//	    "github.com/flowbase/kstreams/internal/execution"
//	    "github.com/flowbase/kstreams/kdag"
//	    "github.com/flowbase/kstreams/kprocessor"
//	    "github.com/flowbase/kstreams/kserde"
//	)
//
//	// Create a new builder
//	builder := kdag.NewBuilder()
//
//	// Register a source that reads strings from Kafka
//	execution.MustRegisterSource(builder,
//	    "input-source",           // node name
//	    "input-topic",            // Kafka topic
//	    kserde.StringDeserializer,
//	    kserde.StringDeserializer,
//	)
//
//	// Register a processor that transforms strings to ints
//	execution.MustRegisterProcessor(builder,
//	    kprocessor.Map(func(k string, v string) int64 {
//	        return int64(len(v)) // transform string to its length
//	    }),
//	    "length-processor",       // node name
//	    "input-source",           // parent node
//	)
//
//	// Register a sink that writes to Kafka
//	execution.MustRegisterSink(builder,
//	    "output-sink",            // node name
//	    "output-topic",           // Kafka topic
//	    kserde.StringSerializer,
//	    kserde.Int64Serializer,
//	    "length-processor",       // parent node
//	)
//
//	// Build and validate the DAG
//	dag := builder.MustBuild()
//
// # Type Safety
//
// Type compatibility is verified at registration time. The following would fail
// at registration with ErrTypeMismatch:
//
//	// Source outputs string, string
//	execution.MustRegisterSource(builder, "source", "topic",
//	    kserde.StringDeserializer, kserde.StringDeserializer)
//
//	// Processor expects int, int as input - TYPE MISMATCH!
//	execution.MustRegisterProcessor(builder,
//	    kprocessor.Map(func(k int, v int) string { return "" }),
//	    "processor", "source") // FAILS: expects int but source outputs string
//
// The type system uses reflect.Type to capture and validate type signatures,
// ensuring that parent outputs match child inputs.
//
// # Validation
//
// DAG validation is performed during Build() and checks:
//
//   - **Cycle Detection**: DAGs cannot contain cycles (uses DFS)
//   - **Orphan Detection**: All nodes must be reachable from a source
//   - **Sink Validation**: Sinks cannot have children
//   - **Store Validation**: All referenced stores must be registered
//   - **Size Limits**: Prevents pathological graphs (MaxNodesPerDAG, MaxDepth, etc.)
//
// Type validation (parent outputs must match child inputs) is done earlier, when
// each processor or sink is registered.
//
// All validation errors use sentinel errors (ErrCycleDetected, ErrTypeMismatch, etc.)
// that can be checked with errors.Is().
//
// # State Stores
//
// Processors can access state stores for stateful operations:
//
//	// Register a store
//	kdag.MustRegisterStore(builder, storeBuilder, "my-store")
//
//	// Register a processor that uses the store
//	execution.MustRegisterProcessor(builder,
//	    myProcessor,
//	    "stateful-processor",
//	    "input-source",
//	    "my-store") // reference the store
//
// Stores must be registered before any processors that reference them.
//
// # Error Handling
//
// All registration functions return errors that can be checked:
//
//	err := execution.RegisterProcessor(builder, processor, "name", "parent")
//	if errors.Is(err, kdag.ErrNodeNotFound) {
//	    // Parent doesn't exist
//	} else if errors.Is(err, kdag.ErrTypeMismatch) {
//	    // Type incompatibility
//	}
//
// Use Must* variants to panic on error for cleaner code when errors are unexpected.
//
// # Thread Safety
//
// IMPORTANT: Builder is NOT safe for concurrent use. All registration methods
// must be called from a single goroutine. The resulting DAG is immutable and
// safe to use concurrently.
//
// # Performance
//
// The package is optimized for both build-time and runtime performance:
//
//   - Validation uses optimized algorithms (Kahn's algorithm for topological sort)
//   - Maps and slices are pre-allocated where sizes are known
//   - Deterministic ordering is maintained without excessive sorting
//   - Type checking happens at build time, not during message processing
//
// Validation complexity: O(V + E) where V is vertices and E is edges.
//
// # Advanced Usage
//
// For read-only access to the underlying graph:
//
//	graph := builder.GetGraph()
//	node, exists := builder.GetNode("my-node")
//
// WARNING: Do not modify the graph directly. Use registration functions to
// ensure proper validation.
package kdag
