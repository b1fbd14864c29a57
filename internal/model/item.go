package model

// SampleIndex addresses one sample in the dataset.
type SampleIndex uint64

// ResponseID is the harness-assigned identity of one logical sample in a query.
type ResponseID uint64

// QuerySample pairs a response identity with the sample it asks for.
type QuerySample struct {
	ID    ResponseID
	Index SampleIndex
}

// Item is one unit of input: the tensors bound to a single inference operation
// plus the logical samples they represent. An Item may aggregate many samples
// (batching). It must not be modified once assigned to a slot.
type Item struct {
	Tensors       []Tensor
	ResponseIDs   []ResponseID
	SampleIndices []SampleIndex
}

// BatchSize returns the number of logical samples carried by the item.
func (it Item) BatchSize() int {
	return len(it.SampleIndices)
}

// Response is the result for one logical sample. Data aliases the producing
// slot's result buffer and is only valid until that buffer is reset.
type Response struct {
	ID   ResponseID
	Data []float32
}

// Size returns the length of the result in bytes.
func (r Response) Size() int {
	return len(r.Data) * 4
}

// ResultBuffer is the flat per-slot output of post-processing: Values holds the
// concatenated results and Counts[i] is the number of values belonging to
// ResponseIDs[i].
type ResultBuffer struct {
	Values      []float32
	Counts      []int
	ResponseIDs []ResponseID
}

// Append records one sample's result.
func (b *ResultBuffer) Append(id ResponseID, values ...float32) {
	b.Values = append(b.Values, values...)
	b.Counts = append(b.Counts, len(values))
	b.ResponseIDs = append(b.ResponseIDs, id)
}

// Len returns the number of recorded samples.
func (b *ResultBuffer) Len() int {
	return len(b.ResponseIDs)
}

// Reset empties the buffer, keeping its capacity. Previously returned
// Responses may be overwritten by later appends.
func (b *ResultBuffer) Reset() {
	b.Values = b.Values[:0]
	b.Counts = b.Counts[:0]
	b.ResponseIDs = b.ResponseIDs[:0]
}

// Truncate drops every entry at or after entry.
func (b *ResultBuffer) Truncate(entry int) {
	if entry >= len(b.ResponseIDs) {
		return
	}
	n := 0
	for _, c := range b.Counts[:entry] {
		n += c
	}
	b.Values = b.Values[:n]
	b.Counts = b.Counts[:entry]
	b.ResponseIDs = b.ResponseIDs[:entry]
}

// ResponsesFrom returns Response windows for the entries recorded at or after
// entry, in recording order.
func (b *ResultBuffer) ResponsesFrom(entry int) []Response {
	if entry >= len(b.ResponseIDs) {
		return nil
	}
	offset := 0
	for _, c := range b.Counts[:entry] {
		offset += c
	}
	out := make([]Response, 0, len(b.ResponseIDs)-entry)
	for i := entry; i < len(b.ResponseIDs); i++ {
		end := offset + b.Counts[i]
		out = append(out, Response{ID: b.ResponseIDs[i], Data: b.Values[offset:end:end]})
		offset = end
	}
	return out
}
