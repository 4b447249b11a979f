package ask

import (
	"fmt"
	"strings"

	"github.com/knoguchi/rag/internal/vectorstore"
)

// promptRAGJSON is the non-streaming chat template. It asks for a
// single-field JSON object so the answer can be parsed out; when the
// model ignores that, the raw content is used as the answer.
const promptRAGJSON = `You are an expert assistant.

Answer the user's question using the information provided in the context below.
You may rephrase, summarize, or explain the content in your own words,
but do not add information that is not supported by the context.

Return ONLY valid JSON, without markdown or explanation.
Format:
{
  "answer": string
}

If the context does not contain enough information to answer the question,
say clearly that you do not have enough information.

Be clear, concise, and accurate.

Context:
---------
%s
---------

Question:
%s
`

// promptRAGStream is the streaming template: plain text, no JSON
// envelope, since deltas are forwarded to the client as they arrive.
const promptRAGStream = `You are an expert assistant.

Answer the user's question using the information provided in the context below.
You may rephrase, summarize, or explain the content in your own words,
but do not add information that is not supported by the context.

If the context does not contain enough information to answer the question,
say clearly that you do not have enough information.

Be clear, concise, and accurate.

Context:
---------
%s
---------

Question:
%s
`

// buildContext renders reranked chunks as numbered blocks separated by
// blank lines, so the model can reference them by index.
func buildContext(chunks []vectorstore.ScoredPoint) string {
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = fmt.Sprintf("[%d]\n%s", i+1, c.Metadata.Text)
	}
	return strings.Join(blocks, "\n\n")
}

func renderJSONPrompt(chunks []vectorstore.ScoredPoint, question string) string {
	return fmt.Sprintf(promptRAGJSON, buildContext(chunks), question)
}

func renderStreamPrompt(chunks []vectorstore.ScoredPoint, question string) string {
	return fmt.Sprintf(promptRAGStream, buildContext(chunks), question)
}
