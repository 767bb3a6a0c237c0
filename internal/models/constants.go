package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n\n"

	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
	MetaStart      = "start"
	MetaEnd        = "end"
	MetaPage       = "page"

	SystemPrompt    = "You are a helpful assistant that answers questions about the user's documents."
	NoContextAnswer = "I could not find any relevant information in the loaded documents to answer this question."
)

var (
	AnswerPromptTemplate = `Answer the question using ONLY the context below. If the answer is not in the context, say "I don't know." Be as detailed as possible.

Context:
%s

Question: %s
Answer:`

	NoContextPromptTemplate = `No passages from the loaded documents matched this question. Answer from general knowledge if you can, and say clearly that the documents did not contain the answer.

Question: %s
Answer:`
)
