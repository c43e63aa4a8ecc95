// Package narrative produces short tour-guide narratives for a route.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// ErrNotConfigured is returned when a provider has no API key
var ErrNotConfigured = errors.New("narrative provider is not configured")

// Narrator describes the drive between two locations in the given language
type Narrator interface {
	Narrate(ctx context.Context, origin, destination string, lang language.Tag) (string, error)
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash-preview-04-17"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// New returns the narrator for provider. Clients are created on first use, so
// a missing key surfaces as ErrNotConfigured from Narrate rather than here.
func New(provider, apiKey, model string) (Narrator, error) {
	switch strings.ToLower(provider) {
	case ProviderGemini, "":
		return NewGemini(apiKey, model), nil
	case ProviderOpenAI:
		return NewOpenAI(apiKey, model), nil
	case ProviderNone:
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown narrative provider %q", provider)
	}
}

// Disabled never produces a narrative
type Disabled struct{}

func (Disabled) Narrate(context.Context, string, string, language.Tag) (string, error) {
	return "", ErrNotConfigured
}

const englishPrompt = `You are a friendly and engaging tour guide.
Please provide a short, vivid narrative for a simulated drive from "%s" to "%s" in English.
Imagine you're describing the journey to someone who will be 'driving' it via Street View.
Focus on key turns, landmarks, or interesting visuals they might see.
Keep the overall narrative relatively brief, emphasizing the experience rather than exhaustive turn-by-turn directions.
Make it sound like a pleasant virtual drive.
Example style: "As we set off from the bustling Times Square, you'll see the vibrant billboards all around. We'll then head down 7th Avenue, catching a glimpse of Central Park on our right. Look out for the iconic Flatiron Building as we make a left turn..."
Please respond in English only.`

const thaiPrompt = `คุณคือมัคคุเทศก์ผู้ชายที่เป็นมิตรและน่าสนใจ
โปรดบรรยายเส้นทางสั้นๆ และเห็นภาพชัดเจนสำหรับการขับรถจำลองจาก "%s" ไปยัง "%s" เป็นภาษาไทย
จินตนาการว่าคุณกำลังอธิบายการเดินทางให้คนที่จะ 'ขับ' ผ่าน Street View
เน้นจุดเลี้ยวสำคัญ จุดสังเกต หรือภาพที่น่าสนใจที่พวกเขาอาจเห็นสักสองสามแห่ง
ให้เรื่องเล่าโดยรวมค่อนข้างสั้น เน้นประสบการณ์มากกว่าคำแนะนำแบบเลี้ยวต่อเลี้ยวที่ละเอียดถี่ถ้วน
ทำให้ฟังดูเหมือนการขับรถเสมือนจริงที่น่ารื่นรมย์
ตัวอย่างสไตล์ (เป็นภาษาอังกฤษเพื่อให้เห็นภาพรวม): "As we set off from the bustling Times Square, you'll see the vibrant billboards all around. We'll then head down 7th Avenue, catching a glimpse of Central Park on our right. Look out for the iconic Flatiron Building as we make a left turn..."
กรุณาตอบเป็นภาษาไทยเท่านั้น`

// BuildPrompt renders the tour-guide prompt for lang. Anything other than
// Thai gets the English prompt.
func BuildPrompt(origin, destination string, lang language.Tag) string {
	base, _ := lang.Base()
	if base.String() == "th" {
		return fmt.Sprintf(thaiPrompt, origin, destination)
	}
	return fmt.Sprintf(englishPrompt, origin, destination)
}
