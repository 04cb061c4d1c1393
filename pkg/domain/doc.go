// Package domain defines the core business types for the Tollbooth rule
// engine.
//
// This package contains pure domain logic with no infrastructure
// dependencies beyond the serialization library. All types in this package
// are:
//
// - Independent of infrastructure (no database, HTTP transport, etc.)
// - Technology-agnostic (no framework coupling)
// - Testable in isolation without mocks
//
// Other packages (engine, storage, capture, config) implement the interfaces
// defined here and depend on these types. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// The same types back both the live enforcement path and the rule-test
// preview path, which is what keeps the two from drifting.
package domain
