// Package transcript decodes agent session transcripts.
//
// A transcript is an append-only JSONL file. Each line may carry a
// timestamp and a nested message in one of several historical shapes. The
// parser keeps only records inside a time window, collects the free text of
// every message, and extracts tool calls together with the results that
// answer them.
//
// Decoding is tolerant: unparseable lines, records without a usable
// timestamp and unknown fields are skipped and counted in Stats rather than
// reported as errors. Only I/O failures are errors.
package transcript
