package optimizer

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gonum.org/v1/gonum/stat"

	"github.com/foxzi/sendry-lab/internal/models"
)

const (
	minSendTimeMessages = 50
	minBucketMessages   = 5
	minSegmentMessages  = 10
	minTemplates        = 3
	minTemplateMessages = 5
	// minLift is the improvement in percent a recommendation must exceed
	minLift = 5.0

	// sendTimeZone is the clock send-time buckets are read in
	sendTimeZone = "UTC"

	shortSubjectLength = 50
	maxContentGain     = 25.0
)

// bucket counts engagement of a group of sent messages
type bucket struct {
	sent    int
	engaged int
}

func (b *bucket) add(d *models.DeliveryRecord) {
	b.sent++
	if d.Engaged() {
		b.engaged++
	}
}

func (b bucket) rate() float64 {
	if b.sent == 0 {
		return 0
	}
	return float64(b.engaged) / float64(b.sent)
}

func lift(rate, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (rate - baseline) / baseline * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// analyzeSendTime recommends the hour of day with the highest engagement
func analyzeSendTime(h *history) *models.OptimizationRecommendation {
	var hours [24]bucket
	var days [7]bucket
	var overall bucket

	for i := range h.deliveries {
		d := &h.deliveries[i]
		if d.SentAt == nil {
			continue
		}
		at := d.SentAt.UTC()
		hours[at.Hour()].add(d)
		days[at.Weekday()].add(d)
		overall.add(d)
	}
	if overall.sent < minSendTimeMessages {
		return nil
	}

	bestHour, covered := -1, 0
	hourly := make(map[string]float64)
	for hr, b := range hours {
		if b.sent < minBucketMessages {
			continue
		}
		covered++
		hourly[fmt.Sprintf("%02d:00", hr)] = round2(b.rate() * 100)
		if bestHour < 0 || b.rate() > hours[bestHour].rate() {
			bestHour = hr
		}
	}
	if bestHour < 0 {
		return nil
	}

	bestDay := -1
	daily := make(map[string]float64)
	for d, b := range days {
		if b.sent < minBucketMessages {
			continue
		}
		daily[time.Weekday(d).String()] = round2(b.rate() * 100)
		if bestDay < 0 || b.rate() > days[bestDay].rate() {
			bestDay = d
		}
	}

	baseline := overall.rate()
	gain := lift(hours[bestHour].rate(), baseline)
	if gain <= minLift {
		return nil
	}

	confidence := 0.6 +
		0.15*math.Min(float64(overall.sent)/500, 1) +
		0.15*float64(covered)/24
	confidence = math.Max(0.6, math.Min(confidence, 0.9))

	recommended := fmt.Sprintf("%02d:00", bestHour)
	data := map[string]any{
		"recommendedTime": recommended,
		"timezone":        sendTimeZone,
		"hourlyRates":     hourly,
		"dailyRates":      daily,
		"baselineRate":    round2(baseline * 100),
		"bestRate":        round2(hours[bestHour].rate() * 100),
		"sampleSize":      overall.sent,
	}
	desc := fmt.Sprintf("Messages sent at %s %s are engaged with %.1f%% of the time against %.1f%% overall.",
		recommended, sendTimeZone, hours[bestHour].rate()*100, baseline*100)
	if bestDay >= 0 {
		data["recommendedDay"] = time.Weekday(bestDay).String()
		desc += fmt.Sprintf(" %s is the strongest day.", time.Weekday(bestDay))
	}

	return &models.OptimizationRecommendation{
		Type:                models.RecommendSendTime,
		Title:               fmt.Sprintf("Send campaigns at %s %s", recommended, sendTimeZone),
		Description:         desc,
		Data:                data,
		ConfidenceScore:     confidence,
		ExpectedImprovement: gain,
	}
}

type segmentRate struct {
	name string
	b    bucket
}

// analyzeAudience recommends focusing on the most engaged customer segments
func analyzeAudience(h *history) *models.OptimizationRecommendation {
	groups := make(map[string]*bucket)
	for i := range h.deliveries {
		d := &h.deliveries[i]
		if d.Segment == "" || d.SentAt == nil {
			continue
		}
		b, ok := groups[d.Segment]
		if !ok {
			b = &bucket{}
			groups[d.Segment] = b
		}
		b.add(d)
	}

	var qualifying []segmentRate
	for name, b := range groups {
		if b.sent >= minSegmentMessages {
			qualifying = append(qualifying, segmentRate{name: name, b: *b})
		}
	}
	if len(qualifying) == 0 {
		return nil
	}
	sort.Slice(qualifying, func(i, j int) bool {
		if qualifying[i].b.rate() != qualifying[j].b.rate() {
			return qualifying[i].b.rate() > qualifying[j].b.rate()
		}
		return qualifying[i].name < qualifying[j].name
	})

	rates := make([]float64, len(qualifying))
	for i, s := range qualifying {
		rates[i] = s.b.rate()
	}
	average := stat.Mean(rates, nil)

	top := qualifying
	if len(top) > 3 {
		top = top[:3]
	}
	gain := lift(top[0].b.rate(), average)
	if gain < minLift {
		return nil
	}

	confidence := 0.6
	if len(qualifying) >= 2 {
		confidence = 0.8
	}

	names := make([]string, len(top))
	segments := make([]map[string]any, len(top))
	for i, s := range top {
		names[i] = s.name
		segments[i] = map[string]any{
			"segment":        s.name,
			"engagementRate": round2(s.b.rate() * 100),
			"messages":       s.b.sent,
		}
	}

	return &models.OptimizationRecommendation{
		Type:        models.RecommendAudience,
		Title:       fmt.Sprintf("Target the %s segment", top[0].name),
		Description: fmt.Sprintf("Top segments %s engage above the %.1f%% segment average.", strings.Join(names, ", "), average*100),
		Data: map[string]any{
			"topSegments":    segments,
			"averageRate":    round2(average * 100),
			"segmentsTested": len(qualifying),
		},
		ConfidenceScore:     confidence,
		ExpectedImprovement: gain,
	}
}

// urgencyPattern matches urgency words and phrases as whole words, so "now"
// does not match "know" nor "ends" match "friends"
var urgencyPattern = regexp.MustCompile(`(?i)\b(today|now|last chance|limited|hurry|ends|only|urgent|don['’]t miss|final)\b`)

var personalizationMarkers = []string{"{{", "{name}", "{first_name}", "%name%"}

// templateFeatures are the content traits compared between strong and weak templates
type templateFeatures struct {
	id              string
	rate            float64
	subjectLength   int
	urgency         bool
	emoji           bool
	personalization bool
}

func hasUrgency(s string) bool {
	return urgencyPattern.MatchString(s)
}

func hasEmoji(s string) bool {
	for _, r := range s {
		if r >= 0x1F300 && r <= 0x1FAFF || r >= 0x2600 && r <= 0x27BF {
			return true
		}
		if unicode.Is(unicode.So, r) {
			return true
		}
	}
	return false
}

func hasPersonalization(s string) bool {
	for _, m := range personalizationMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

type groupStats struct {
	subjectLength   float64
	urgency         float64
	emoji           float64
	personalization float64
}

func summarize(group []templateFeatures) groupStats {
	lengths := make([]float64, len(group))
	var urgency, emoji, personal int
	for i, f := range group {
		lengths[i] = float64(f.subjectLength)
		if f.urgency {
			urgency++
		}
		if f.emoji {
			emoji++
		}
		if f.personalization {
			personal++
		}
	}
	n := float64(len(group))
	return groupStats{
		subjectLength:   stat.Mean(lengths, nil),
		urgency:         float64(urgency) / n,
		emoji:           float64(emoji) / n,
		personalization: float64(personal) / n,
	}
}

// analyzeContent compares the content traits of the best and worst
// performing templates
func analyzeContent(h *history) *models.OptimizationRecommendation {
	groups := make(map[string]*bucket)
	subjects := make(map[string]string)
	for i := range h.deliveries {
		d := &h.deliveries[i]
		if d.TemplateID == "" || d.SentAt == nil {
			continue
		}
		b, ok := groups[d.TemplateID]
		if !ok {
			b = &bucket{}
			groups[d.TemplateID] = b
		}
		b.add(d)
		if _, ok := subjects[d.TemplateID]; !ok && d.Subject != "" {
			subjects[d.TemplateID] = d.Subject
		}
	}

	var features []templateFeatures
	for id, b := range groups {
		if b.sent < minTemplateMessages {
			continue
		}
		subject, content := subjects[id], ""
		if t, ok := h.templates[id]; ok {
			subject, content = t.Subject, t.Content
		}
		text := subject + " " + content
		features = append(features, templateFeatures{
			id:              id,
			rate:            b.rate(),
			subjectLength:   utf8.RuneCountInString(subject),
			urgency:         hasUrgency(text),
			emoji:           hasEmoji(text),
			personalization: hasPersonalization(text),
		})
	}
	if len(features) < minTemplates {
		return nil
	}
	sort.Slice(features, func(i, j int) bool {
		if features[i].rate != features[j].rate {
			return features[i].rate > features[j].rate
		}
		return features[i].id < features[j].id
	})

	third := len(features) / 3
	if third < 1 {
		third = 1
	}
	top := summarize(features[:third])
	bottom := summarize(features[len(features)-third:])

	var performing []string
	gain := 0.0
	if top.subjectLength < shortSubjectLength {
		performing = append(performing, "short_subject")
		gain += 8
	}
	if top.urgency > 0.5 {
		performing = append(performing, "urgency")
		gain += 12
	}
	if top.emoji > 0.6 {
		performing = append(performing, "emoji")
		gain += 6
	}
	if len(performing) == 0 {
		return nil
	}
	gain = math.Min(gain, maxContentGain)

	var underperforming []string
	if bottom.subjectLength >= shortSubjectLength {
		underperforming = append(underperforming, "long_subject")
	}
	if bottom.urgency <= 0.2 {
		underperforming = append(underperforming, "no_urgency")
	}
	if bottom.emoji <= 0.2 {
		underperforming = append(underperforming, "no_emoji")
	}

	topIDs := make([]string, third)
	for i := range topIDs {
		topIDs[i] = features[i].id
	}

	return &models.OptimizationRecommendation{
		Type:        models.RecommendContent,
		Title:       "Reuse the content patterns of your best templates",
		Description: fmt.Sprintf("Your strongest templates share: %s.", strings.Join(performing, ", ")),
		Data: map[string]any{
			"performingElements":      performing,
			"underperformingElements": underperforming,
			"topTemplates":            topIDs,
			"templatesAnalyzed":       len(features),
			"topSubjectLength":        round2(top.subjectLength),
			"bottomSubjectLength":     round2(bottom.subjectLength),
			"topPersonalization":      round2(top.personalization * 100),
			"bottomPersonalization":   round2(bottom.personalization * 100),
		},
		ConfidenceScore:     0.75,
		ExpectedImprovement: gain,
	}
}

// analyzeChannel is an extension point for channel mix recommendations
func analyzeChannel(*history) *models.OptimizationRecommendation {
	return nil
}

// analyzeFrequency is an extension point for send frequency recommendations
func analyzeFrequency(*history) *models.OptimizationRecommendation {
	return nil
}
