package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/vuelogic/schedule-agent/internal/config"
	"github.com/vuelogic/schedule-agent/internal/store"
)

const (
	scopeInstruction = "You are VueLogic. You must ONLY answer questions about project scheduling (CPM, WBS, logic, " +
		"baselines, P6, delays, re-sequencing, critical path, what-if, DCMA 14-Point). " +
		"For any other topic, politely decline and say you only help with scheduling questions.\n\n"

	defaultSkill = "You help with CPM schedules, WBS, logic, DCMA 14-Point, re-sequencing, and what-if analysis. " +
		"Skill file not found; using default behavior."
)

// PromptAssembler builds the system prompt: the static skill document plus
// best-effort session context from the store. The skill document is read once
// at construction.
type PromptAssembler struct {
	base        string
	skillLoaded bool
	store       *store.Store
	lessonsTail int
	filePreview int
	xerPreview  int
}

func NewPromptAssembler(cfg *config.Config, st *store.Store) *PromptAssembler {
	base := scopeInstruction
	skillLoaded := false
	if data, err := os.ReadFile(cfg.SkillPath); err == nil {
		base += string(data)
		skillLoaded = true
	} else {
		log.Printf("Skill document %s not readable, using built-in default: %v", cfg.SkillPath, err)
		base += defaultSkill
	}
	return &PromptAssembler{
		base:        base,
		skillLoaded: skillLoaded,
		store:       st,
		lessonsTail: cfg.LessonsTail,
		filePreview: cfg.FilePreview,
		xerPreview:  cfg.XERPreview,
	}
}

// SkillLoaded reports whether the skill document was found at startup.
func (a *PromptAssembler) SkillLoaded() bool {
	return a.skillLoaded
}

// Assemble returns the system prompt for one request. Context augmentation is
// best-effort: any store failure degrades to the unaugmented base prompt.
func (a *PromptAssembler) Assemble(ctx context.Context, sessionID string) string {
	if a.store == nil || !a.store.Available() {
		return a.base
	}

	lessons, err := a.store.Lessons(ctx)
	if err != nil {
		log.Printf("Prompt augmentation skipped, lessons unavailable: %v", err)
		return a.base
	}
	trust, err := a.store.TrustScore(ctx)
	if err != nil {
		log.Printf("Prompt augmentation skipped, trust score unavailable: %v", err)
		return a.base
	}

	var b strings.Builder
	b.WriteString(a.base)

	if len(lessons) > 0 {
		if len(lessons) > a.lessonsTail {
			lessons = lessons[len(lessons)-a.lessonsTail:]
		}
		b.WriteString("\n\n## Current lessons learned (use when proposing options)\n")
		for i, le := range lessons {
			fmt.Fprintf(&b, "- [%d] %s: %s\n", i+1, le.Event, le.Lesson)
		}
	}

	b.WriteString("\n\n## Trust score (HITL)\n")
	fmt.Fprintf(&b, "Approvals: %d, Total proposals: %d, AI_Agency_Score: %.2f. "+
		"Level 1 (Autonomous) only if score >= 0.8; otherwise propose (Level 2/3).\n",
		trust.Approvals, trust.TotalProposals, trust.AgencyScore)

	if sessionID != "" {
		files, err := a.store.Files(ctx, sessionID)
		if err != nil {
			log.Printf("Prompt augmentation skipped, file index unavailable: %v", err)
			return a.base
		}
		if len(files) > 0 {
			b.WriteString("\n\n## Uploaded project files (use when answering questions)\n")
			for _, f := range files {
				content, err := a.store.FileContent(ctx, sessionID, f.Filename)
				if err != nil {
					log.Printf("Prompt augmentation skipped, file %s unavailable: %v", f.Filename, err)
					return a.base
				}
				if content == "" {
					continue
				}
				a.writeFilePreview(&b, f.Filename, content)
			}
		}
	}

	return b.String()
}

// writeFilePreview renders one uploaded file as a labeled code-fenced block.
// Primavera P6 exports (.xer) carry primary schedule data and get the larger
// preview allowance.
func (a *PromptAssembler) writeFilePreview(b *strings.Builder, filename, content string) {
	isXER := strings.HasSuffix(strings.ToLower(filename), ".xer")
	note := ""
	maxPreview := a.filePreview
	if isXER {
		note = " (Primavera P6 export)"
		maxPreview = a.xerPreview
	}
	preview := content
	if len(content) > maxPreview {
		preview = content[:maxPreview]
	}
	fmt.Fprintf(b, "\n### File: %s%s\n```\n%s\n```\n", filename, note, preview)
	if len(content) > maxPreview {
		fmt.Fprintf(b, "\n(File truncated; showing first %dKB of %dKB)\n", maxPreview/1000, len(content)/1000)
	}
}
