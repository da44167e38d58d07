// Package harvest implements the quota-aware harvesting pipeline: the paged
// fetcher with bounded retry, the quota tracker and call budget, the flat and
// yearly harvest strategies, and the mapping from decoded API items to
// questions and answers.
package harvest
