package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/askdb/askdb/internal/completion"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/schema"
)

type Relevance int

const (
	Relevant Relevance = iota
	Irrelevant
)

func (r Relevance) String() string {
	if r == Irrelevant {
		return "irrelevant"
	}
	return "relevant"
}

const gateSystemPrompt = `You decide whether a question can be answered with SQL over the database described below.
Reply with exactly one word: RELEVANT if the question is about data stored in these tables, IRRELEVANT otherwise.
When unsure, reply RELEVANT.`

// Gate decides whether a question is about the schema at all. The
// heuristic is biased toward relevant: only a question that shares no word
// with any table or column name can fail it.
type Gate struct {
	mode      string
	completer completion.Completer
	vocab     map[string]struct{}
}

func NewGate(mode string, s *schema.Schema, completer completion.Completer) (*Gate, error) {
	switch mode {
	case config.GateHeuristic:
	case config.GateModel, config.GateHybrid:
		if completer == nil {
			return nil, fmt.Errorf("gate mode %q needs a completer", mode)
		}
	default:
		return nil, fmt.Errorf("unsupported gate mode %q", mode)
	}
	return &Gate{mode: mode, completer: completer, vocab: schemaVocabulary(s)}, nil
}

func (g *Gate) Assess(ctx context.Context, question, schemaText string) (Relevance, error) {
	switch g.mode {
	case config.GateHeuristic:
		return g.Heuristic(question), nil
	case config.GateModel:
		return g.askModel(ctx, question, schemaText)
	default:
		if g.Heuristic(question) == Relevant {
			return Relevant, nil
		}
		return g.askModel(ctx, question, schemaText)
	}
}

// Heuristic reports relevant when a content word of the question matches a
// table or column name, or a part of one.
func (g *Gate) Heuristic(question string) Relevance {
	for _, word := range questionWords(question) {
		if _, ok := g.vocab[word]; ok {
			return Relevant
		}
	}
	return Irrelevant
}

func (g *Gate) askModel(ctx context.Context, question, schemaText string) (Relevance, error) {
	reply, err := g.completer.Complete(ctx, completion.Request{
		System:    gateSystemPrompt + "\n\nDATABASE SCHEMA:\n" + schemaText,
		Prompt:    "Question: " + question,
		MaxTokens: 5,
	})
	if err != nil {
		return Relevant, fmt.Errorf("relevance check: %w", err)
	}
	verdict := strings.ToUpper(strings.Trim(strings.TrimSpace(reply), ".!\"'`*"))
	if verdict == "IRRELEVANT" {
		return Irrelevant, nil
	}
	return Relevant, nil
}

var stopWords = map[string]struct{}{}

func init() {
	for _, word := range strings.Fields(`
		a about above after all also am an and any are as at be been before being below between both but by
		can could database data db did do does doing done each every few find for from get give had has have
		having he her here hers him his how i if in into is it its just know let like list many may me might
		more most much my no nor not now of off on once only or other our out over own per please record records
		row rows same say she should show so some such table tables tell than that the their them then there
		these they this those through to too under until up us very want was we were what whats when where
		which while who whom whose why will with would you your`) {
		stopWords[word] = struct{}{}
	}
}

// questionWords lower-cases, splits on anything that is not a letter,
// drops stop words and singularizes.
func questionWords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) < 3 {
			continue
		}
		if _, stop := stopWords[field]; stop {
			continue
		}
		out = append(out, singular(field))
	}
	return out
}

func schemaVocabulary(s *schema.Schema) map[string]struct{} {
	vocab := map[string]struct{}{}
	add := func(name string) {
		full := strings.ToLower(name)
		vocab[singular(full)] = struct{}{}
		for _, part := range splitName(name) {
			if len(part) < 3 {
				continue
			}
			if _, stop := stopWords[part]; stop {
				continue
			}
			vocab[singular(part)] = struct{}{}
		}
	}
	if s == nil {
		return vocab
	}
	for _, table := range s.Tables {
		add(table.Name)
		for _, col := range table.Columns {
			add(col.Name)
		}
	}
	return vocab
}

// splitName breaks an identifier on underscores, digits and camel-case
// boundaries: "BillingPostalCode" gives billing, postal, code.
func splitName(name string) []string {
	var (
		parts   []string
		current []rune
	)
	flush := func() {
		if len(current) > 0 {
			parts = append(parts, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r):
			flush()
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return parts
}

// singular strips common English plural endings.
func singular(word string) string {
	switch {
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "sses"):
		return word[:len(word)-2]
	case len(word) > 4 && (strings.HasSuffix(word, "ches") || strings.HasSuffix(word, "shes") || strings.HasSuffix(word, "xes")):
		return word[:len(word)-2]
	case len(word) > 3 && strings.HasSuffix(word, "s") &&
		!strings.HasSuffix(word, "ss") && !strings.HasSuffix(word, "us") && !strings.HasSuffix(word, "is"):
		return word[:len(word)-1]
	}
	return word
}
