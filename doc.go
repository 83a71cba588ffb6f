// Package gosnip compiles untrusted Go snippets to WebAssembly and runs them
// under a timeout and a memory ceiling.
//
// # Overview
//
// A snippet is wrapped into a complete program when it has no main
// function, built for wasip1 with the Go toolchain and executed in a fresh
// wazero runtime. Runs are serialized and always end in a single report:
// the captured output, the compile diagnostics, a timeout, a memory breach
// or a runtime failure.
//
// # Basic Usage
//
//	ld, _ := loader.New()
//	defer ld.Close()
//
//	gov, _ := executor.New(compiler.NewInvoker(compiler.NewGoBackend()), ld)
//	defer gov.Shutdown(context.Background())
//
//	fmt.Println(gov.Execute(`println("hello")`, 5000, 50))
//
// # Toolchain
//
//	root, _ := compiler.UnpackBundle("go1.25.5.linux-amd64.tar.gz", dir)
//	compiler.SetHome(root)
//
// See the [executor], [compiler], [loader], [capture] and [language/golang]
// packages for detailed API documentation.
package gosnip
