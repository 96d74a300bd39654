package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/llm"
)

const systemPrompt = `Você é um analista comercial de uma escola de esportes. Sua tarefa é ler a conversa de WhatsApp entre a escola e um contato e extrair sinais comerciais.

Responda SOMENTE com um objeto JSON válido, sem texto adicional, exatamente com estas chaves:
{
  "sentiment": "positivo" | "neutro" | "negativo",
  "conversion_probability": inteiro de 0 a 100,
  "engagement_score": inteiro de 0 a 100,
  "interests": [lista curta de modalidades, turmas ou serviços de interesse],
  "objections": [lista curta de objeções identificadas, como preço, horário ou distância],
  "purchase_triggers": [lista curta de gatilhos de compra percebidos],
  "next_action": "próxima ação comercial recomendada, em uma frase",
  "preferred_time": "melhor horário para contato ou string vazia",
  "preferred_day": "melhor dia para contato ou string vazia",
  "summary": "resumo da conversa em até três frases"
}

Baseie-se apenas no que está na conversa. Se não houver evidência, use listas vazias e probabilidades baixas.`

var sentiments = map[string]string{
	"positivo": "positivo",
	"positive": "positivo",
	"neutro":   "neutro",
	"neutral":  "neutro",
	"negativo": "negativo",
	"negative": "negativo",
}

// score accepts a JSON number or a numeric string, as models emit both.
type score struct {
	value int
	set   bool
}

func (s *score) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "%")
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("score %q is not a number", raw)
	}
	s.value = int(math.Round(f))
	s.set = true
	return nil
}

// stringList accepts a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*l = list
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	if one != "" {
		*l = []string{one}
	}
	return nil
}

// Analysis is the structured result the model must return.
type Analysis struct {
	Sentiment             string     `json:"sentiment"`
	ConversionProbability score      `json:"conversion_probability"`
	EngagementScore       score      `json:"engagement_score"`
	Interests             stringList `json:"interests"`
	Objections            stringList `json:"objections"`
	PurchaseTriggers      stringList `json:"purchase_triggers"`
	NextAction            string     `json:"next_action"`
	PreferredTime         string     `json:"preferred_time"`
	PreferredDay          string     `json:"preferred_day"`
	Summary               string     `json:"summary"`
}

// ParseAnalysis extracts the first JSON object of the model output and
// validates it. Failures wrap ErrMalformedOutput.
func ParseAnalysis(text string) (*Analysis, error) {
	obj := llm.ExtractJSONObject(text)
	if obj == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedOutput)
	}
	var a Analysis
	if err := json.Unmarshal([]byte(obj), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if !a.ConversionProbability.set {
		return nil, fmt.Errorf("%w: conversion_probability missing", ErrMalformedOutput)
	}

	a.ConversionProbability.value = domain.ClampScore(a.ConversionProbability.value)
	a.EngagementScore.value = domain.ClampScore(a.EngagementScore.value)
	if s, ok := sentiments[strings.ToLower(strings.TrimSpace(a.Sentiment))]; ok {
		a.Sentiment = s
	} else {
		a.Sentiment = "neutro"
	}
	a.Interests = cleanList(a.Interests)
	a.Objections = cleanList(a.Objections)
	a.PurchaseTriggers = cleanList(a.PurchaseTriggers)
	a.NextAction = strings.TrimSpace(a.NextAction)
	a.PreferredTime = strings.TrimSpace(a.PreferredTime)
	a.PreferredDay = strings.TrimSpace(a.PreferredDay)
	a.Summary = strings.TrimSpace(a.Summary)
	return &a, nil
}

func cleanList(in stringList) stringList {
	out := stringList{}
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Priority is the contact bucket implied by the conversion probability.
func (a *Analysis) Priority() string {
	return domain.PriorityForConversion(a.ConversionProbability.value)
}

func (a *Analysis) toInsight(contactID uuid.UUID, stats domain.MessageStats) *domain.Insight {
	return &domain.Insight{
		ContactID:             contactID,
		Sentiment:             a.Sentiment,
		EngagementScore:       a.EngagementScore.value,
		ConversionProbability: a.ConversionProbability.value,
		Interests:             a.Interests,
		Objections:            a.Objections,
		PurchaseTriggers:      a.PurchaseTriggers,
		NextAction:            a.NextAction,
		PreferredTime:         a.PreferredTime,
		PreferredDay:          a.PreferredDay,
		Summary:               a.Summary,
		TotalMessages:         stats.Total,
		InboundMessages:       stats.Inbound,
		OutboundMessages:      stats.Outbound,
		FirstInteractionAt:    stats.FirstInteractionAt,
		LastInteractionAt:     stats.LastInteractionAt,
	}
}

// RenderTranscript turns messages given most recent first into a
// chronological transcript of at most maxChars, dropping the oldest lines.
func RenderTranscript(recentFirst []*domain.Message, maxChars int) string {
	lines := make([]string, 0, len(recentFirst))
	total := 0
	for _, m := range recentFirst {
		who := "Contato"
		if m.FromMe {
			who = "Escola"
		}
		line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("2006-01-02 15:04"), who, strings.TrimSpace(m.Body))
		if maxChars > 0 && total+len(line)+1 > maxChars {
			if len(lines) == 0 {
				lines = append(lines, truncateRunes(line, maxChars))
			}
			break
		}
		lines = append(lines, line)
		total += len(line) + 1
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func buildUserPrompt(c *domain.Contact, stats domain.MessageStats, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Contato: %s\n", c.DisplayName())
	fmt.Fprintf(&b, "Telefone: %s\n", c.Phone)
	if c.IsBusiness {
		b.WriteString("Conta comercial: sim\n")
	}
	fmt.Fprintf(&b, "Mensagens: %d (recebidas %d, enviadas %d)\n", stats.Total, stats.Inbound, stats.Outbound)
	if stats.FirstInteractionAt != nil {
		fmt.Fprintf(&b, "Primeira interação: %s\n", stats.FirstInteractionAt.Format("2006-01-02"))
	}
	b.WriteString("\nConversa:\n")
	b.WriteString(transcript)
	return b.String()
}
