// Package trustfilter — detector.go ищет в сообщении попытки увести сделку мимо гаранта.
package trustfilter

import (
	"regexp"
	"strings"
)

// Категории срабатывания.
const (
	CategoryMention = "mention"
	CategoryPhone   = "phone"
	CategoryLink    = "link"
	keywordPrefix   = "keyword:"
)

var (
	// @username в начале токена. /cmd@bot и e-mail не считаются.
	mentionRe = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_/@.])@[A-Za-z0-9_]{3,32}`)
	// 9–15 цифр, между ними допускаются пробелы, дефисы и скобки.
	phoneRe = regexp.MustCompile(`\+?\d(?:[ \-()]{0,2}\d){8,14}`)
	// Ссылки на профили в мессенджерах.
	linkRe = regexp.MustCompile(`(?i)\b(?:t\.me|telegram\.me|wa\.me|viber\.click)/`)
)

// Detector проверяет текст по стоп-словам и шаблонам.
type Detector struct {
	keywords []string
}

// NewDetector создаёт детектор. Ключевые слова сравниваются без учёта регистра.
func NewDetector(keywords []string) *Detector {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			kw = append(kw, k)
		}
	}
	return &Detector{keywords: kw}
}

// Detect возвращает список сработавших категорий. Пустой список — сообщение чистое.
func (d *Detector) Detect(text string) []string {
	lower := strings.ToLower(text)

	var found []string
	for _, k := range d.keywords {
		if strings.Contains(lower, k) {
			found = append(found, keywordPrefix+k)
		}
	}
	if mentionRe.MatchString(text) {
		found = append(found, CategoryMention)
	}
	if phoneRe.MatchString(text) {
		found = append(found, CategoryPhone)
	}
	if linkRe.MatchString(text) {
		found = append(found, CategoryLink)
	}
	return found
}
