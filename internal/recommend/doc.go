// Package recommend wraps the external text completion service used to
// suggest books.
//
// Callers depend on the Completer interface only. OpenAIClient is the
// production implementation and works against OpenAI or any compatible
// server (Ollama, vLLM, LM Studio) through recommender.base_url. Tests use
// Func to inject canned answers or failures.
//
// There is no retry. A failed or empty completion is returned as an error and
// the caller decides how to degrade.
package recommend
