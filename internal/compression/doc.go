// Package compression classifies skill documents and reduces them to a
// per-tool character budget.
//
// # Classification
//
// Classify runs fixed structural probes over the markdown (parsed with
// goldmark) and assigns one of four content types:
//
//	full_skill       canonical skill layout: calling structure, parameters, output spec
//	chart_content    plotting code with render calls
//	mixed_content    JSON calling examples or code blocks in prose
//	generic_content  everything else
//
// # Compression
//
// Each content type has a TypeConfig: a threshold below which content is
// returned unchanged, a maximum compression rate, a minimum preserved
// length, anchor section keywords and a default strategy. DecideStrategy
// turns an Analysis into a Decision:
//
//	target = max(MinPreserved, min(Length*(1-MaxRate), budget))
//
// Strategies are looked up in a table keyed by (ContentType, Strategy):
//
//	extract_core      anchor sections, then the opening, then raw padding
//	format_only       up to three ranked code templates plus a usage note
//	smart_mix         core excerpt, query-relevant paragraphs, code examples
//	minimal_compress  title, first paragraph, one example, padded to target
//	fallback          head truncation with a continuation marker
//
// Any strategy error or panic degrades to fallback. Every result passes
// through finalize, which never lets output exceed the target.
//
// All sizes are measured in characters (runes).
package compression
