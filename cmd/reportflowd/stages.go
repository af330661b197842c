package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/engine"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/interrupt"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/scheduler"
)

// registerStages wires the daemon's builtin stage implementations. The
// research and writing stages are template-based stand-ins for generative
// backends: they produce deterministic candidate content, raise an approval
// gate, and store whatever the reviewer approves (or edits) into state.
// Swapping in real generators only means replacing the work functions.
func registerStages(stages *engine.Stages, ctrl *interrupt.Controller, logger *zap.Logger) {
	logger = logger.With(zap.String("component", "stages"))

	stages.RegisterGated(ctrl, scheduler.ActionResearch, interrupt.Gate{
		Action:       string(scheduler.ActionResearch),
		Description:  "Review the research findings for the current section",
		AllowEdit:    true,
		AllowRespond: true,
		Handler:      storeCandidate("content", applyResearch),
	}, func(ctx context.Context, s *report.State) (map[string]any, error) {
		sec, ok := s.CurrentSection()
		if !ok {
			return nil, fmt.Errorf("no section under work (index %d of %d)", s.CurrentSectionIndex, len(s.Sections))
		}
		logger.Debug("research stage", zap.String("section", sec.ID))
		return map[string]any{
			"section_id": sec.ID,
			"content":    researchTemplate(s.Topic, sec),
		}, nil
	})

	stages.RegisterGated(ctrl, scheduler.ActionWriting, interrupt.Gate{
		Action:       string(scheduler.ActionWriting),
		Description:  "Review the drafted section before it is committed",
		AllowEdit:    true,
		AllowRespond: true,
		Handler:      storeCandidate("content", applyWriting),
	}, func(ctx context.Context, s *report.State) (map[string]any, error) {
		sec, ok := s.CurrentSection()
		if !ok {
			return nil, fmt.Errorf("no section under work (index %d of %d)", s.CurrentSectionIndex, len(s.Sections))
		}
		logger.Debug("writing stage", zap.String("section", sec.ID))
		return map[string]any{
			"section_id": sec.ID,
			"content":    writingTemplate(s, sec),
		}, nil
	})

	stages.Register(scheduler.ActionIntegration, func(ctx context.Context, s *report.State) engine.Outcome {
		final := composeReport(s)
		logger.Debug("integration stage", zap.Int("sections", len(s.Sections)), zap.Int("bytes", len(final)))
		return engine.Continue(report.Delta{FinalReport: &final})
	})
}

// storeCandidate builds the gate response handler shared by the gated stages:
// Accept stores the candidate from the request args, Edit prefers the edited
// value under the same key, Respond stores the candidate and appends the
// feedback as an audit message.
func storeCandidate(key string, apply func(sectionID, content string) report.Delta) interrupt.ResponseHandler {
	return func(s *report.State, req *interrupt.Request, resp interrupt.Response) (report.Delta, error) {
		sectionID, _ := req.Args["section_id"].(string)
		if sectionID == "" {
			if sec, ok := s.CurrentSection(); ok {
				sectionID = sec.ID
			}
		}
		if sectionID == "" {
			return report.Delta{}, fmt.Errorf("cannot determine target section for %q", req.Action)
		}

		content, _ := req.Args[key].(string)
		var feedback string
		switch r := resp.(type) {
		case interrupt.Edit:
			if edited, ok := r.Args[key].(string); ok && edited != "" {
				content = edited
			}
		case interrupt.Respond:
			feedback = r.Feedback
		}
		if content == "" {
			return report.Delta{}, fmt.Errorf("no %q candidate recorded for %q", key, req.Action)
		}

		delta := apply(sectionID, content)
		if feedback != "" {
			delta.Messages = append(delta.Messages, report.Message{
				Role:    "user",
				Node:    req.Action,
				Content: feedback,
			})
		}
		return delta, nil
	}
}

func applyResearch(sectionID, content string) report.Delta {
	return report.Delta{ResearchResults: map[string]string{sectionID: content}}
}

func applyWriting(sectionID, content string) report.Delta {
	return report.Delta{WritingResults: map[string]string{sectionID: content}}
}

func researchTemplate(topic string, sec report.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research notes for %q (topic: %s)\n\n", sec.Title, topic)
	if sec.Description != "" {
		fmt.Fprintf(&b, "Scope: %s\n\n", sec.Description)
	}
	fmt.Fprintf(&b, "Key findings:\n")
	fmt.Fprintf(&b, "- Background and context for %s in relation to %s.\n", sec.Title, topic)
	fmt.Fprintf(&b, "- Current state of the art and notable developments.\n")
	fmt.Fprintf(&b, "- Open problems and directions worth covering in the section.\n")
	return b.String()
}

func writingTemplate(s *report.State, sec report.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", sec.Title)
	if research := s.ResearchResults[sec.ID]; research != "" {
		fmt.Fprintf(&b, "%s\n", research)
	} else {
		fmt.Fprintf(&b, "This section of the report on %s covers %s.\n", s.Topic, sec.Title)
	}
	return b.String()
}

// composeReport assembles the final document from the written sections in
// outline order. Sections with no draft are noted rather than dropped.
func composeReport(s *report.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Topic)
	for _, sec := range s.Sections {
		if draft, ok := s.WritingResults[sec.ID]; ok && draft != "" {
			b.WriteString(draft)
		} else {
			fmt.Fprintf(&b, "## %s\n\n_(section not completed)_\n", sec.Title)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
