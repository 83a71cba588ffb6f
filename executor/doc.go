// Package executor runs untrusted Go snippets one at a time and turns every
// run into a single human-readable report.
//
// # Overview
//
// A [Governor] owns one worker goroutine. Each call to [Governor.Run] wraps
// the snippet, compiles it to a wasip1 artifact in a private temporary
// directory, runs the artifact in a fresh wazero runtime and waits for the
// result under a wall-clock timeout while a sampler watches memory use.
// Whatever happens, the temporary directory is removed and the worker slot
// is released before Run returns.
//
// # Basic Usage
//
//	inv := compiler.NewInvoker(compiler.NewGoBackend())
//	ld, err := loader.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ld.Close()
//
//	gov, err := executor.New(inv, ld)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gov.Shutdown(context.Background())
//
//	fmt.Println(gov.Execute(`println("hello")`, 5000, 50))
//
// # Outcomes
//
// [Governor.Run] returns an [Outcome] whose [Outcome.Report] renders the
// user-facing string. [Governor.Execute] is Run followed by Report.
//
// # Cancellation
//
// Cancellation is cooperative. The compile subprocess is killed through its
// context and wazero checks the context at function calls and loop
// back-edges, so even a tight loop stops shortly after the timeout. The
// caller never waits longer than the timeout plus a short grace period.
//
// # Memory
//
// The memory ceiling is a percentage of the maximum reported by a
// [MemoryProbe]. A runner that is itself a MemoryProbe, such as the
// loader measuring the artifact's linear memory, is used by default.
// Sampling is approximate: a snippet can overshoot between two samples. An
// artifact that runs out of memory at the loader's page limit is reported
// as a breach as well.
package executor
