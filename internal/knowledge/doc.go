// Package knowledge indexes the business's document directory for the
// search_knowledge tool. Documents are plain markdown or text files;
// paragraphs are the unit of retrieval.
package knowledge
