package backend

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ThatCatDev/runmymodel/pkg/api"
)

var (
	paramSizeRe    = regexp.MustCompile(`(?i)(?:^|[^a-z0-9.])(\d+(?:\.\d+)?)([mb])(?:$|[^a-z])`)
	quantizationRe = regexp.MustCompile(`(?i)\b(q\d(?:_[a-z0-9]+)*|fp16|f16|bf16)\b`)
	byteSizeRe     = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([kmgt]?b)\s*$`)
)

// modelName is what can be read off an Ollama-style model reference such
// as "qwen2.5-coder:7b-instruct-q4_K_M".
type modelName struct {
	Family       string
	Tag          string
	SizeClass    string
	Quantization string
}

func parseModelName(id string) modelName {
	family, tag, _ := strings.Cut(id, ":")
	if i := strings.LastIndex(family, "/"); i >= 0 {
		family = family[i+1:]
	}
	n := modelName{Family: family, Tag: tag}

	if m := paramSizeRe.FindStringSubmatch(" " + tag + " "); m != nil {
		n.SizeClass = m[1] + strings.ToUpper(m[2])
	}
	if m := quantizationRe.FindString(tag); m != "" {
		n.Quantization = strings.ToUpper(m)
	}
	return n
}

// taskFromName maps a family name and its library capability tags to the
// catalog's task category.
func taskFromName(family string, tags []string) string {
	has := func(s string) bool {
		if strings.Contains(strings.ToLower(family), s) {
			return true
		}
		for _, t := range tags {
			if strings.EqualFold(t, s) {
				return true
			}
		}
		return false
	}
	switch {
	case has("embed") || has("embedding"):
		return "Embedding"
	case has("vision") || has("llava"):
		return "Multimodal"
	case has("code") || has("coder"):
		return "Code Generation"
	default:
		return "Text Generation"
	}
}

// parseByteSize converts sizes such as "4.7GB" to bytes (1024-based).
func parseByteSize(s string) int64 {
	m := byteSizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	mult := map[string]float64{
		"b":  1,
		"kb": 1 << 10,
		"mb": 1 << 20,
		"gb": 1 << 30,
		"tb": 1 << 40,
	}[strings.ToLower(m[2])]
	return int64(n * mult)
}

// fetchOllamaLibrary scrapes the public library listing. Each family is
// expanded into one entry per advertised parameter size.
func fetchOllamaLibrary(ctx context.Context, client *http.Client, libraryURL string) ([]api.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, libraryURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko)")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseOllamaLibrary(doc, libraryURL), nil
}

// parseOllamaLibrary reads <li x-test-model> entries. Every entry links to
// /library/<family>; sizes and capabilities are tagged spans.
func parseOllamaLibrary(doc *goquery.Document, libraryURL string) []api.ModelInfo {
	var models []api.ModelInfo
	doc.Find("li[x-test-model]").Each(func(_ int, s *goquery.Selection) {
		family := strings.TrimSpace(s.Find("[x-test-search-response-title]").First().Text())
		if family == "" {
			href, _ := s.Find("a").First().Attr("href")
			family = strings.TrimPrefix(href, "/library/")
		}
		if family == "" {
			return
		}

		description := strings.Join(strings.Fields(s.Find("p").First().Text()), " ")

		var capabilities []string
		s.Find("[x-test-capability]").Each(func(_ int, c *goquery.Selection) {
			capabilities = append(capabilities, strings.TrimSpace(c.Text()))
		})

		var sizes []string
		s.Find("[x-test-size]").Each(func(_ int, c *goquery.Selection) {
			if size := strings.ToLower(strings.TrimSpace(c.Text())); size != "" {
				sizes = append(sizes, size)
			}
		})

		url := strings.TrimSuffix(libraryURL, "/") + "/" + family
		task := taskFromName(family, capabilities)
		if len(sizes) == 0 {
			models = append(models, api.ModelInfo{
				ID:          family,
				Name:        family,
				Task:        task,
				URL:         url,
				Family:      family,
				Description: description,
			})
			return
		}
		for _, size := range sizes {
			id := family + ":" + size
			models = append(models, api.ModelInfo{
				ID:          id,
				Name:        id,
				SizeClass:   parseModelName(id).SizeClass,
				Task:        task,
				URL:         url,
				Family:      family,
				Description: description,
			})
		}
	})
	return models
}

// popularOllamaModels is the curated list used when the library page cannot
// be fetched.
func popularOllamaModels() []api.ModelInfo {
	curated := []struct {
		name, description, size string
		tags                    []string
	}{
		{"llama3.2:3b", "Meta's Llama 3.2 - Fast, capable model (3B params)", "2.0GB", []string{"general", "chat", "code"}},
		{"llama3.2:1b", "Meta's Llama 3.2 - Ultra-fast lightweight (1B params)", "1.3GB", []string{"general", "chat"}},
		{"qwen2.5-coder:7b", "Alibaba's Qwen 2.5 Coder - Excellent for coding (7B params)", "4.7GB", []string{"code", "programming"}},
		{"qwen2.5-coder:14b", "Alibaba's Qwen 2.5 Coder - Advanced coding (14B params)", "9.0GB", []string{"code", "programming"}},
		{"phi3:3.8b", "Microsoft Phi-3 - Small but powerful (3.8B params)", "2.3GB", []string{"general", "chat"}},
		{"gemma2:2b", "Google Gemma 2 - Efficient and fast (2B params)", "1.6GB", []string{"general", "chat"}},
		{"mistral:7b", "Mistral AI - Balanced performance (7B params)", "4.1GB", []string{"general", "chat", "code"}},
		{"llama3.1:8b", "Meta's Llama 3.1 - Strong general model (8B params)", "4.7GB", []string{"general", "chat", "reasoning"}},
		{"codellama:7b", "Meta's Code Llama - Specialized for coding (7B params)", "3.8GB", []string{"code", "programming"}},
		{"deepseek-coder:6.7b", "DeepSeek Coder - Advanced code generation (6.7B params)", "3.8GB", []string{"code", "programming"}},
		{"llava:7b", "LLaVA - Vision + language model (7B params)", "4.5GB", []string{"vision", "multimodal"}},
		{"neural-chat:7b", "Intel's Neural Chat - Optimized for conversation (7B params)", "4.1GB", []string{"chat", "conversation"}},
	}

	models := make([]api.ModelInfo, 0, len(curated))
	for _, c := range curated {
		parsed := parseModelName(c.name)
		models = append(models, api.ModelInfo{
			ID:          c.name,
			Name:        c.name,
			Size:        parseByteSize(c.size),
			SizeClass:   parsed.SizeClass,
			Task:        taskFromName(parsed.Family, c.tags),
			URL:         defaultLibraryURL + "/" + parsed.Family,
			Family:      parsed.Family,
			Description: c.description,
		})
	}
	return models
}
