package variants

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/foxzi/sendry-lab/internal/models"
)

// Transformation names
const (
	TransformUrgencyPrefix = "urgency_prefix"
	TransformShorten       = "shorten"
	TransformEmoji         = "emoji"
	TransformSocialProof   = "social_proof"
	TransformScarcity      = "scarcity"
	TransformChannelSwap   = "channel_swap"
	TransformSendTime      = "send_time"
	TransformPersonalize   = "personalize"
)

const (
	defaultUrgencyPhrase = "Last chance:"
	defaultEmoji         = "✨"
	defaultSocialProof   = "Join hundreds of happy clients who booked this month."
	defaultScarcity      = "Only a few slots left this week."
	defaultSendTime      = "18:00"
	defaultMaxLength     = 30
	ellipsis             = "..."
	personalizationToken = "{{first_name}}"
)

var sendTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Audience narrows the customers a generated variant targets
type Audience struct {
	Segment string `json:"segment,omitempty"`
}

// Candidate is an unsaved generated variant
type Candidate struct {
	Name               string
	RuleID             string
	Transformation     string
	TemplateOverrides  map[string]string
	ChannelOverride    string
	AudiencePercentage int
}

type transformFunc func(base *models.Template, field string, params map[string]string) (overrides map[string]string, channel string)

var transformations = map[string]transformFunc{
	TransformUrgencyPrefix: urgencyPrefix,
	TransformShorten:       shorten,
	TransformEmoji:         emoji,
	TransformSocialProof:   appendCopy(defaultSocialProof),
	TransformScarcity:      appendCopy(defaultScarcity),
	TransformChannelSwap:   channelSwap,
	TransformSendTime:      sendTime,
	TransformPersonalize:   personalize,
}

// fallbacks is the best-practice transformation used per test type when no
// rule produces a variant
var fallbacks = map[models.TestType]models.VariantRule{
	models.TestSubjectLine:     {Name: "Urgent subject", Transformation: TransformUrgencyPrefix},
	models.TestContent:         {Name: "Social proof", Transformation: TransformSocialProof},
	models.TestSendTime:        {Name: "Evening send", Transformation: TransformSendTime},
	models.TestChannel:         {Name: "Alternate channel", Transformation: TransformChannelSwap},
	models.TestPersonalization: {Name: "Personalized greeting", Transformation: TransformPersonalize},
}

// KnownTransformation reports whether name is a supported transformation
func KnownTransformation(name string) bool {
	_, ok := transformations[name]
	return ok
}

// Generate produces candidate variants for a base template. Up to
// maxVariants-1 matching rules are applied in priority order, one slot being
// reserved for the control. Transformations that leave the template unchanged
// are dropped; when none produce output the test type's default variant is
// used. Every candidate gets floor(100/(n+1)) percent of the traffic.
func Generate(base *models.Template, testType models.TestType, audience Audience, rules []models.VariantRule, maxVariants int) []Candidate {
	slots := maxVariants - 1
	if base == nil || slots < 1 {
		return nil
	}

	selected := SelectRules(rules, testType)
	if len(selected) > slots {
		selected = selected[:slots]
	}

	field := targetField(testType)
	var candidates []Candidate
	seen := make(map[string]bool)

	add := func(rule models.VariantRule) {
		c, ok := apply(base, field, rule)
		if !ok {
			return
		}
		key := fingerprint(c)
		if seen[key] {
			return
		}
		seen[key] = true
		if audience.Segment != "" {
			c.Name = fmt.Sprintf("%s (%s)", c.Name, audience.Segment)
		}
		candidates = append(candidates, c)
	}

	for _, rule := range selected {
		add(rule)
	}
	if len(candidates) == 0 {
		if rule, ok := fallbacks[testType]; ok {
			add(rule)
		}
	}

	pct := 100 / (len(candidates) + 1)
	for i := range candidates {
		candidates[i].AudiencePercentage = pct
	}
	return candidates
}

// SelectRules returns the active rules for testType, highest priority first.
// Ties go to the lower rule ID.
func SelectRules(rules []models.VariantRule, testType models.TestType) []models.VariantRule {
	var out []models.VariantRule
	for _, r := range rules {
		if r.Active && r.TestType == testType {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func apply(base *models.Template, field string, rule models.VariantRule) (Candidate, bool) {
	fn, ok := transformations[rule.Transformation]
	if !ok {
		return Candidate{}, false
	}

	overrides, channel := fn(base, field, rule.Params)
	for k, v := range overrides {
		if v == fieldValue(base, k) {
			delete(overrides, k)
		}
	}
	if channel == base.Channel {
		channel = ""
	}
	if len(overrides) == 0 && channel == "" {
		return Candidate{}, false
	}

	name := rule.Name
	if name == "" {
		name = rule.Transformation
	}
	return Candidate{
		Name:              name,
		RuleID:            rule.ID,
		Transformation:    rule.Transformation,
		TemplateOverrides: overrides,
		ChannelOverride:   channel,
	}, true
}

// targetField is the template field copy transformations rewrite
func targetField(testType models.TestType) string {
	if testType == models.TestContent {
		return models.OverrideContent
	}
	return models.OverrideSubject
}

func fieldValue(t *models.Template, field string) string {
	switch field {
	case models.OverrideSubject:
		return t.Subject
	case models.OverrideContent:
		return t.Content
	case models.OverrideChannel:
		return t.Channel
	}
	return ""
}

func fingerprint(c Candidate) string {
	keys := make([]string, 0, len(c.TemplateOverrides))
	for k := range c.TemplateOverrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + "=" + c.TemplateOverrides[k] + "\x00")
	}
	b.WriteString("channel=" + c.ChannelOverride)
	return b.String()
}

func param(params map[string]string, key, def string) string {
	if v := strings.TrimSpace(params[key]); v != "" {
		return v
	}
	return def
}

func urgencyPrefix(base *models.Template, field string, params map[string]string) (map[string]string, string) {
	phrase := param(params, "phrase", defaultUrgencyPhrase)
	text := fieldValue(base, field)
	if strings.HasPrefix(text, phrase) {
		return nil, ""
	}
	return map[string]string{field: strings.TrimSpace(phrase + " " + text)}, ""
}

func shorten(base *models.Template, field string, params map[string]string) (map[string]string, string) {
	limit := defaultMaxLength
	if n, err := strconv.Atoi(params["max_length"]); err == nil && n > len(ellipsis) {
		limit = n
	}
	return map[string]string{field: Truncate(fieldValue(base, field), limit)}, ""
}

// Truncate shortens s to at most max runes, including a trailing ellipsis
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:max-len(ellipsis)]), " ")
	return cut + ellipsis
}

func emoji(base *models.Template, field string, params map[string]string) (map[string]string, string) {
	e := param(params, "emoji", defaultEmoji)
	text := fieldValue(base, field)
	if strings.HasPrefix(text, e) {
		return nil, ""
	}
	return map[string]string{field: e + " " + text}, ""
}

func appendCopy(def string) transformFunc {
	return func(base *models.Template, field string, params map[string]string) (map[string]string, string) {
		text := fieldValue(base, field)
		line := param(params, "text", def)
		if strings.Contains(text, line) {
			return nil, ""
		}
		sep := " "
		if field == models.OverrideContent && text != "" {
			sep = "\n\n"
		}
		return map[string]string{field: strings.TrimSpace(text + sep + line)}, ""
	}
}

func channelSwap(base *models.Template, _ string, params map[string]string) (map[string]string, string) {
	target := params["channel"]
	if target == "" {
		if base.Channel == models.ChannelSMS {
			target = models.ChannelEmail
		} else {
			target = models.ChannelSMS
		}
	}
	if target != models.ChannelEmail && target != models.ChannelSMS {
		return nil, ""
	}
	return map[string]string{models.OverrideChannel: target}, target
}

func sendTime(_ *models.Template, _ string, params map[string]string) (map[string]string, string) {
	at := param(params, "time", defaultSendTime)
	if !sendTimePattern.MatchString(at) {
		return nil, ""
	}
	return map[string]string{models.OverrideSendTime: at}, ""
}

func personalize(base *models.Template, field string, params map[string]string) (map[string]string, string) {
	token := param(params, "token", personalizationToken)
	text := fieldValue(base, field)
	if strings.Contains(text, token) {
		return nil, ""
	}
	return map[string]string{field: token + ", " + text}, ""
}

// ApplyOverrides copies the subject, content and channel overrides of a
// variant onto a copy of the base template. Other override keys are ignored.
func ApplyOverrides(base *models.Template, v *models.Variant) *models.Template {
	if base == nil {
		return nil
	}
	out := *base
	if s, ok := v.TemplateOverrides[models.OverrideSubject]; ok {
		out.Subject = s
	}
	if c, ok := v.TemplateOverrides[models.OverrideContent]; ok {
		out.Content = c
	}
	if ch, ok := v.TemplateOverrides[models.OverrideChannel]; ok && ch != "" {
		out.Channel = ch
	}
	if v.ChannelOverride != "" {
		out.Channel = v.ChannelOverride
	}
	return &out
}
