package transcript

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Parser extracts text and tool calls from transcripts for one window.
type Parser struct {
	window Window
}

// NewParser creates a parser that keeps records inside w.
func NewParser(w Window) *Parser {
	return &Parser{window: w}
}

// ParseFile parses the transcript at path.
func (p *Parser) ParseFile(path string) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	ext, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ext, nil
}

// Parse reads a transcript line by line. Lines have no length limit.
// Malformed or out-of-window lines are counted and skipped; only read
// errors are returned.
func (p *Parser) Parse(r io.Reader) (*Extraction, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	corr := NewCorrelator()
	ext := &Extraction{}
	var parts []string

	lineNum := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNum++
			parts = p.processLine(lineNum, line, corr, ext, parts)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("reading line %d: %w", lineNum+1, readErr)
		}
	}

	ext.Text = strings.Join(parts, " ")
	ext.ToolCalls = corr.Calls()
	return ext, nil
}

func (p *Parser) processLine(lineNum int, line []byte, corr *Correlator, ext *Extraction, parts []string) []string {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return parts
	}
	ext.Stats.Lines++

	rec, status := decodeRecord(line)
	switch status {
	case lineUnparseable:
		ext.Stats.Unparseable++
		ext.Stats.addError(lineNum, "invalid JSON")
		return parts
	case lineUntimed:
		ext.Stats.Untimed++
		return parts
	}
	if !p.window.Contains(rec.Timestamp) {
		ext.Stats.OutOfWindow++
		return parts
	}
	if !rec.IsMessage {
		return parts
	}
	ext.Stats.Messages++

	msg := &rec.Message
	parts = append(parts, textParts(msg)...)

	if msg.Role == roleAssistant {
		for _, call := range toolCalls(msg) {
			call.Timestamp = rec.Timestamp
			corr.AddCall(call)
		}
	}

	for _, res := range toolResults(msg) {
		ext.Stats.Results++
		if !corr.Resolve(res) {
			ext.Stats.DroppedResults++
		}
	}
	return parts
}
