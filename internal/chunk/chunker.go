package chunk

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Config controls how source text is split into pieces.
type Config struct {
	Method     string // "fixed", "sentence", "semantic"
	TargetSize int    // target words per piece
	MaxSize    int    // max words per piece
	Overlap    int    // overlap words between pieces
}

// DefaultConfig mirrors the chunking defaults used throughout this
// service's ingest paths.
func DefaultConfig() Config {
	return Config{Method: "semantic", TargetSize: 512, MaxSize: 1024, Overlap: 50}
}

// Validate rejects chunker configurations that cannot produce sane output.
func Validate(cfg Config) error {
	validMethods := map[string]bool{"fixed": true, "semantic": true, "sentence": true}
	if cfg.Method != "" && !validMethods[cfg.Method] {
		return &invalidConfigError{"invalid chunking method: " + cfg.Method}
	}
	if cfg.TargetSize < 0 {
		return &invalidConfigError{"target_size cannot be negative"}
	}
	if cfg.MaxSize < 0 {
		return &invalidConfigError{"max_size cannot be negative"}
	}
	if cfg.TargetSize > 0 && cfg.MaxSize > 0 && cfg.TargetSize > cfg.MaxSize {
		return &invalidConfigError{"target_size cannot be greater than max_size"}
	}
	if cfg.Overlap < 0 {
		return &invalidConfigError{"overlap cannot be negative"}
	}
	if cfg.Overlap > 0 && cfg.TargetSize > 0 && cfg.Overlap >= cfg.TargetSize {
		return &invalidConfigError{"overlap must be less than target_size"}
	}
	return nil
}

type invalidConfigError struct{ msg string }

func (e *invalidConfigError) Error() string { return e.msg }

// Piece is a single unit of text produced by the splitter, still
// unaware of which source/domain/topic it belongs to.
type Piece struct {
	Content  string
	Index    int
	Metadata map[string]string
}

// Splitter handles text splitting with different strategies: fixed-size
// word windows, sentence grouping, or markdown-aware semantic blocks.
type Splitter struct {
	config Config
}

// NewSplitter creates a Splitter with the given configuration, filling
// in defaults for unset sizes and method. A negative overlap becomes
// 50; a zero overlap is kept as zero.
func NewSplitter(config Config) *Splitter {
	if config.TargetSize <= 0 {
		config.TargetSize = 512
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 1024
	}
	if config.Overlap < 0 {
		config.Overlap = 50
	}
	if config.Method == "" {
		config.Method = "semantic"
	}
	return &Splitter{config: config}
}

// Split breaks content into pieces using the configured method.
func (c *Splitter) Split(content string) []Piece {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	switch c.config.Method {
	case "fixed":
		return c.splitFixed(content)
	case "sentence":
		return c.splitSentenceMode(content)
	case "semantic":
		return c.splitSemantic(content)
	default:
		return c.splitSemantic(content)
	}
}

// ============================================================================
// Fixed splitting
// ============================================================================

func (c *Splitter) splitFixed(content string) []Piece {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	var pieces []Piece
	targetWords := c.config.TargetSize
	overlapWords := c.config.Overlap

	for i := 0; i < len(words); {
		end := i + targetWords
		if end > len(words) {
			end = len(words)
		}

		chunkWords := words[i:end]
		pieces = append(pieces, Piece{
			Content: strings.Join(chunkWords, " "),
			Index:   len(pieces),
			Metadata: map[string]string{
				"method":     "fixed",
				"word_count": strconv.Itoa(len(chunkWords)),
			},
		})

		step := targetWords - overlapWords
		if step <= 0 {
			step = targetWords / 2
			if step <= 0 {
				step = 1
			}
		}
		i += step

		if end >= len(words) {
			break
		}
	}

	return pieces
}

// ============================================================================
// Sentence splitting
// ============================================================================

func (c *Splitter) splitSentenceMode(content string) []Piece {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var pieces []Piece
	var current []string
	currentWords := 0

	for _, sentence := range sentences {
		sentenceWords := len(strings.Fields(sentence))

		if currentWords+sentenceWords > c.config.MaxSize && currentWords > 0 {
			pieces = append(pieces, c.sentencePiece(current, len(pieces)))
			current, currentWords = c.sentenceOverlap(current)
		}

		if sentenceWords > c.config.MaxSize {
			if currentWords > 0 {
				pieces = append(pieces, c.sentencePiece(current, len(pieces)))
				current = nil
				currentWords = 0
			}
			pieces = append(pieces, c.splitLongSentence(sentence, len(pieces))...)
			continue
		}

		current = append(current, sentence)
		currentWords += sentenceWords

		if currentWords >= c.config.TargetSize {
			pieces = append(pieces, c.sentencePiece(current, len(pieces)))
			current, currentWords = c.sentenceOverlap(current)
		}
	}

	if len(current) > 0 {
		pieces = append(pieces, c.sentencePiece(current, len(pieces)))
	}

	return pieces
}

func (c *Splitter) sentencePiece(sentences []string, index int) Piece {
	content := strings.Join(sentences, " ")
	return Piece{
		Content: strings.TrimSpace(content),
		Index:   index,
		Metadata: map[string]string{
			"method":         "sentence",
			"sentence_count": strconv.Itoa(len(sentences)),
			"word_count":     strconv.Itoa(len(strings.Fields(content))),
		},
	}
}

func (c *Splitter) sentenceOverlap(sentences []string) ([]string, int) {
	if c.config.Overlap <= 0 || len(sentences) == 0 {
		return nil, 0
	}

	var overlap []string
	overlapWords := 0
	for i := len(sentences) - 1; i >= 0 && overlapWords < c.config.Overlap; i-- {
		overlap = append([]string{sentences[i]}, overlap...)
		overlapWords += len(strings.Fields(sentences[i]))
	}
	return overlap, overlapWords
}

func (c *Splitter) splitLongSentence(sentence string, startIndex int) []Piece {
	words := strings.Fields(sentence)
	var pieces []Piece

	for i := 0; i < len(words); {
		end := i + c.config.TargetSize
		if end > len(words) {
			end = len(words)
		}

		chunkWords := words[i:end]
		pieces = append(pieces, Piece{
			Content: strings.Join(chunkWords, " "),
			Index:   startIndex + len(pieces),
			Metadata: map[string]string{
				"method":     "sentence",
				"word_count": strconv.Itoa(len(chunkWords)),
				"split":      "true",
			},
		})

		step := c.config.TargetSize - c.config.Overlap
		if step <= 0 {
			step = c.config.TargetSize / 2
			if step <= 0 {
				step = 1
			}
		}
		i += step

		if end >= len(words) {
			break
		}
	}

	return pieces
}

// ============================================================================
// Semantic (markdown-aware) splitting
// ============================================================================

type contentBlock struct {
	blockType string // "header", "paragraph", "code", "table", "list"
	content   string
	header    string
	level     int
}

func (c *Splitter) splitSemantic(content string) []Piece {
	blocks := c.parseIntoBlocks(content)
	pieces := c.groupBlocksIntoPieces(blocks)

	if c.config.Overlap > 0 {
		pieces = c.addSemanticOverlap(pieces)
	}

	for i := range pieces {
		pieces[i].Index = i
	}

	return pieces
}

var (
	headerPattern    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	codeBlockPattern = regexp.MustCompile("(?s)```(\\w*)\\n(.*?)```")
	tablePattern     = regexp.MustCompile(`(?m)^\|.+\|$`)
	listItemPattern  = regexp.MustCompile(`^\d+\.\s`)
)

func (c *Splitter) parseIntoBlocks(content string) []contentBlock {
	var blocks []contentBlock
	currentHeader := ""
	currentLevel := 0

	codeBlocks := codeBlockPattern.FindAllStringSubmatchIndex(content, -1)
	codeBlockMap := make(map[string]string)

	processedContent := content
	for i := len(codeBlocks) - 1; i >= 0; i-- {
		match := codeBlocks[i]
		codeContent := content[match[0]:match[1]]
		placeholder := "___CODE_BLOCK_" + strconv.Itoa(i) + "___"
		codeBlockMap[placeholder] = codeContent
		processedContent = processedContent[:match[0]] + placeholder + processedContent[match[1]:]
	}

	paragraphs := regexp.MustCompile(`\n\s*\n`).Split(processedContent, -1)

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if strings.HasPrefix(para, "___CODE_BLOCK_") && strings.HasSuffix(para, "___") {
			if codeContent, ok := codeBlockMap[para]; ok {
				blocks = append(blocks, contentBlock{blockType: "code", content: codeContent, header: currentHeader, level: currentLevel})
				continue
			}
		}

		if headerMatch := headerPattern.FindStringSubmatch(para); headerMatch != nil {
			currentLevel = len(headerMatch[1])
			currentHeader = headerMatch[2]
			blocks = append(blocks, contentBlock{blockType: "header", content: para, header: currentHeader, level: currentLevel})
			continue
		}

		if tablePattern.MatchString(para) {
			blocks = append(blocks, contentBlock{blockType: "table", content: para, header: currentHeader, level: currentLevel})
			continue
		}

		if isListBlock(para) {
			blocks = append(blocks, contentBlock{blockType: "list", content: para, header: currentHeader, level: currentLevel})
			continue
		}

		blocks = append(blocks, contentBlock{blockType: "paragraph", content: para, header: currentHeader, level: currentLevel})
	}

	return blocks
}

func isListBlock(content string) bool {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return false
	}
	firstLine := strings.TrimSpace(lines[0])
	return strings.HasPrefix(firstLine, "- ") ||
		strings.HasPrefix(firstLine, "* ") ||
		strings.HasPrefix(firstLine, "+ ") ||
		listItemPattern.MatchString(firstLine)
}

func (c *Splitter) groupBlocksIntoPieces(blocks []contentBlock) []Piece {
	var pieces []Piece
	var current []contentBlock
	currentWords := 0
	currentHeader := ""

	flush := func() {
		if len(current) == 0 {
			return
		}

		var contentParts []string
		headerAdded := false
		for _, block := range current {
			if block.header != "" && !headerAdded {
				prefix := strings.Repeat("#", block.level) + " " + block.header
				if current[0].blockType != "header" || current[0].content != prefix {
					contentParts = append(contentParts, "[Section: "+block.header+"]")
					headerAdded = true
				}
			}
			contentParts = append(contentParts, block.content)
		}

		text := strings.Join(contentParts, "\n\n")
		wordCount := len(strings.Fields(text))

		metadata := map[string]string{
			"method":     "semantic",
			"word_count": strconv.Itoa(wordCount),
		}

		blockTypes := make(map[string]int)
		for _, block := range current {
			blockTypes[block.blockType]++
		}
		if blockTypes["code"] > 0 {
			metadata["contains_code"] = "true"
		}
		if blockTypes["table"] > 0 {
			metadata["contains_table"] = "true"
		}
		if currentHeader != "" {
			metadata["section"] = currentHeader
		}

		pieces = append(pieces, Piece{Content: strings.TrimSpace(text), Index: len(pieces), Metadata: metadata})

		current = nil
		currentWords = 0
	}

	for _, block := range blocks {
		blockWords := len(strings.Fields(block.content))

		if block.blockType == "header" {
			currentHeader = block.header
		}

		isAtomic := block.blockType == "code" || block.blockType == "table"

		if blockWords > c.config.MaxSize {
			flush()
			if isAtomic {
				current = append(current, block)
				flush()
			} else {
				pieces = append(pieces, c.splitLargeBlock(block)...)
			}
			continue
		}

		if currentWords+blockWords > c.config.TargetSize && currentWords > 0 {
			if isAtomic && currentWords+blockWords <= c.config.MaxSize {
				current = append(current, block)
				currentWords += blockWords
				flush()
				continue
			}
			flush()
		}

		current = append(current, block)
		currentWords += blockWords
	}

	flush()

	return pieces
}

func (c *Splitter) splitLargeBlock(block contentBlock) []Piece {
	var pieces []Piece
	sentences := splitSentences(block.content)

	var current []string
	currentWords := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, " ")
		if block.header != "" {
			text = "[Section: " + block.header + "]\n\n" + text
		}
		pieces = append(pieces, Piece{
			Content: strings.TrimSpace(text),
			Index:   len(pieces),
			Metadata: map[string]string{
				"method":     "semantic",
				"word_count": strconv.Itoa(currentWords),
				"section":    block.header,
				"split":      "true",
			},
		})
		current = nil
		currentWords = 0
	}

	for _, sentence := range sentences {
		sentenceWords := len(strings.Fields(sentence))
		if currentWords+sentenceWords > c.config.TargetSize && currentWords > 0 {
			flush()
		}
		current = append(current, sentence)
		currentWords += sentenceWords
	}
	flush()

	return pieces
}

func (c *Splitter) addSemanticOverlap(pieces []Piece) []Piece {
	if len(pieces) <= 1 {
		return pieces
	}

	result := make([]Piece, len(pieces))
	for i, piece := range pieces {
		result[i] = Piece{Content: piece.Content, Index: piece.Index, Metadata: copyMetadata(piece.Metadata)}

		if i > 0 && c.config.Overlap > 0 {
			prevWords := strings.Fields(pieces[i-1].Content)
			if len(prevWords) > 0 {
				overlapCount := c.config.Overlap
				if overlapCount > len(prevWords) {
					overlapCount = len(prevWords)
				}
				overlapText := strings.Join(prevWords[len(prevWords)-overlapCount:], " ")
				if !strings.HasPrefix(overlapText, "[Section:") {
					result[i].Content = "[...] " + overlapText + "\n\n" + result[i].Content
					result[i].Metadata["has_overlap"] = "true"
					result[i].Metadata["overlap_words"] = strconv.Itoa(overlapCount)
				}
			}
		}
	}

	return result
}

// ============================================================================
// Shared utilities
// ============================================================================

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				sentence := strings.TrimSpace(current.String())
				if sentence != "" && !isAbbreviation(sentence) {
					sentences = append(sentences, sentence)
					current.Reset()
				}
			}
		}
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

var abbreviations = []string{
	"mr.", "mrs.", "ms.", "dr.", "prof.",
	"inc.", "ltd.", "corp.",
	"etc.", "e.g.", "i.e.",
	"vs.", "v.",
	"st.", "ave.", "blvd.",
	"no.", "vol.", "pg.",
}

func isAbbreviation(text string) bool {
	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
