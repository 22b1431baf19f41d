package services

import (
	"fmt"
	"math"
	"sync"

	"picstash/internal/models"

	ort "github.com/yalue/onnxruntime_go"
)

// MiniLM-L6-v2 geometry.
const (
	seqLen   = 128
	embedDim = 384
)

// EmbeddingService runs a sentence-transformer ONNX model to embed tag and
// filter text for similarity search. The session owns fixed input/output
// tensors, so calls are serialized with a mutex.
type EmbeddingService struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	tokenizer     *models.Tokenizer
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
	once          sync.Once
}

func NewEmbeddingService(modelPath, tokenizerPath, onnxLibPath string) (*EmbeddingService, error) {
	ort.SetSharedLibraryPath(onnxLibPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}

	inputIDs, err := ort.NewTensor(ort.NewShape(1, seqLen), make([]int64, seqLen))
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	attentionMask, err := ort.NewTensor(ort.NewShape(1, seqLen), make([]int64, seqLen))
	if err != nil {
		return nil, fmt.Errorf("attention tensor: %w", err)
	}
	tokenTypeIDs, err := ort.NewTensor(ort.NewShape(1, seqLen), make([]int64, seqLen))
	if err != nil {
		return nil, fmt.Errorf("token type tensor: %w", err)
	}
	output, err := ort.NewTensor(ort.NewShape(1, seqLen, embedDim), make([]float32, seqLen*embedDim))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{inputIDs, attentionMask, tokenTypeIDs},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	tokenizer, err := models.NewTokenizer(tokenizerPath)
	if err != nil {
		return nil, err
	}

	return &EmbeddingService{
		session:       session,
		tokenizer:     tokenizer,
		inputIDs:      inputIDs,
		attentionMask: attentionMask,
		tokenTypeIDs:  tokenTypeIDs,
		output:        output,
	}, nil
}

// Embed returns a normalized mean-pooled sentence embedding of text.
func (e *EmbeddingService) Embed(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inputIDs, attentionMask := e.tokenizer.Encode(text, seqLen)
	copy(e.inputIDs.GetData(), inputIDs)
	copy(e.attentionMask.GetData(), attentionMask)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	embedding := meanPool(e.output.GetData(), attentionMask)
	normalize(embedding)
	return embedding, nil
}

// meanPool averages token vectors, counting only positions the attention
// mask covers.
func meanPool(output []float32, mask []int64) []float32 {
	embedding := make([]float32, embedDim)
	var count float32

	for i := 0; i < seqLen; i++ {
		if mask[i] == 0 {
			continue
		}
		count++
		for j := 0; j < embedDim; j++ {
			embedding[j] += output[i*embedDim+j]
		}
	}
	if count == 0 {
		return embedding
	}
	for j := range embedding {
		embedding[j] /= count
	}
	return embedding
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}

func (e *EmbeddingService) Close() {
	e.once.Do(func() {
		e.session.Destroy()
		e.inputIDs.Destroy()
		e.attentionMask.Destroy()
		e.tokenTypeIDs.Destroy()
		e.output.Destroy()
		e.tokenizer.Close()
		ort.DestroyEnvironment()
	})
}
