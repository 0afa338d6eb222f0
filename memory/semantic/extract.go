package semantic

import (
	"context"
	"regexp"
	"strings"
)

// personNamePattern matches two consecutive capitalized words, the crude
// proxy this tier uses for person names.
var personNamePattern = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)

// skillKeywords is the fixed vocabulary recognized as skills.
var skillKeywords = []string{
	"acting", "singing", "dancing", "modeling", "photography",
	"writing", "programming", "directing", "editing", "design",
}

// IsPersonName reports whether a string looks like a person name
// (exactly two capitalized words).
func IsPersonName(s string) bool {
	return personNamePattern.MatchString(s) && len(strings.Fields(s)) == 2
}

// IsSkillKeyword reports whether a string is one of the recognized skills.
func IsSkillKeyword(s string) bool {
	lowered := strings.ToLower(strings.TrimSpace(s))
	for _, keyword := range skillKeywords {
		if lowered == keyword {
			return true
		}
	}
	return false
}

// ExtractEntitiesFromText runs the heuristic extractor over free text:
// capitalized two-word sequences become person entities (confidence 0.6),
// and any recognized skill keyword becomes a skill entity (confidence 0.7).
// Each match is persisted immediately, so name dedup applies.
func (s *Store) ExtractEntitiesFromText(ctx context.Context, userID, text string) ([]*Entity, error) {
	var extracted []*Entity

	for _, name := range personNamePattern.FindAllString(text, -1) {
		entity, err := s.StoreEntity(ctx, userID, &Entity{
			Type:        EntityPerson,
			Name:        name,
			Description: "Person mentioned in conversation",
			Confidence:  0.6,
		})
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, entity)
	}

	lowered := strings.ToLower(text)
	for _, keyword := range skillKeywords {
		if !strings.Contains(lowered, keyword) {
			continue
		}
		entity, err := s.StoreEntity(ctx, userID, &Entity{
			Type:        EntitySkill,
			Name:        keyword,
			Description: "Skill mentioned in conversation",
			Confidence:  0.7,
		})
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, entity)
	}

	return extracted, nil
}
