// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"slices"

	"github.com/gomlx/galileo/engine"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// MultiHopNeighborConfig configures MultiHopNeighbor.
type MultiHopNeighborConfig struct {
	// Metapath holds the edge types followed at each hop. It must have the same length as Fanouts.
	Metapath [][]uint8

	// Fanouts holds the number of neighbors sampled per vertex at each hop.
	Fanouts []int

	// EdgeWeight includes the edge weights of the sampled neighbors in the output.
	EdgeWeight bool
}

func (c *MultiHopNeighborConfig) validate() error {
	if err := validateFanouts(c.Fanouts); err != nil {
		return err
	}
	if len(c.Metapath) != len(c.Fanouts) {
		return errors.Errorf("metapath has %d hops, but fanouts has %d", len(c.Metapath), len(c.Fanouts))
	}
	for hop, edgeTypes := range c.Metapath {
		if len(edgeTypes) == 0 {
			return errors.Errorf("metapath hop %d has no edge types", hop)
		}
	}
	return nil
}

// MultiHopNeighbor expands each vertex into its sampled multi-hop neighborhood.
type MultiHopNeighbor struct {
	client engine.Client
	config MultiHopNeighborConfig
}

var _ Transform = (*MultiHopNeighbor)(nil)

// NewMultiHopNeighbor validates the configuration and creates the transform.
func NewMultiHopNeighbor(client engine.Client, config MultiHopNeighborConfig) (*MultiHopNeighbor, error) {
	if err := config.validate(); err != nil {
		return nil, errors.WithMessage(err, "MultiHopNeighbor")
	}
	return &MultiHopNeighbor{client: client, config: config}, nil
}

// sample returns the neighborhoods [N, W] of ids, and the edge weights if configured.
func (t *MultiHopNeighbor) sample(ids []int64) (*tensors.Tensor[int64], *tensors.Tensor[float32], error) {
	return t.client.SampleMultiHop(ids, t.config.Metapath, t.config.Fanouts, t.config.EdgeWeight)
}

// Transform returns IDsKey [B, W] and, if configured, EdgeWeightKey [B, W], where W = FanoutsDim(Fanouts).
func (t *MultiHopNeighbor) Transform(ids *tensors.Tensor[int64]) (*tensors.Batch, error) {
	neighbors, weights, err := t.sample(ids.Data())
	if err != nil {
		return nil, errors.WithMessage(err, "MultiHopNeighbor")
	}
	batch := tensors.NewBatch().SetInt(IDsKey, neighbors)
	if weights != nil {
		batch.SetFloat(EdgeWeightKey, weights)
	}
	return batch, nil
}

// MultiHopFeatureConfig configures MultiHopFeature.
type MultiHopFeatureConfig struct {
	MultiHopNeighborConfig

	// DenseFeatureNames are concatenated in the DenseKey output. DenseFeatureDims holds either one
	// dimension per name, or a single dimension used for all of them.
	DenseFeatureNames []string
	DenseFeatureDims  []int

	// SparseFeatureNames are concatenated in the SparseKey output. SparseFeatureDims defaults to 1 for
	// every name, and only 1 is supported.
	SparseFeatureNames []string
	SparseFeatureDims  []int
}

func (c *MultiHopFeatureConfig) validate() error {
	if err := c.MultiHopNeighborConfig.validate(); err != nil {
		return err
	}
	if len(c.DenseFeatureNames) == 0 && len(c.SparseFeatureNames) == 0 {
		return errors.New("one of dense and sparse feature names must be specified")
	}
	if len(c.DenseFeatureNames) > 0 {
		switch len(c.DenseFeatureDims) {
		case len(c.DenseFeatureNames):
		case 1:
			dim := c.DenseFeatureDims[0]
			c.DenseFeatureDims = make([]int, len(c.DenseFeatureNames))
			for ii := range c.DenseFeatureDims {
				c.DenseFeatureDims[ii] = dim
			}
		default:
			return errors.Errorf("%d dense feature names, but %d dims", len(c.DenseFeatureNames), len(c.DenseFeatureDims))
		}
		for ii, dim := range c.DenseFeatureDims {
			if dim <= 0 {
				return errors.Errorf("dense feature %q must have dim > 0, got %d", c.DenseFeatureNames[ii], dim)
			}
		}
	}
	if len(c.SparseFeatureNames) > 0 {
		if len(c.SparseFeatureDims) == 0 {
			c.SparseFeatureDims = make([]int, len(c.SparseFeatureNames))
			for ii := range c.SparseFeatureDims {
				c.SparseFeatureDims[ii] = 1
			}
		}
		if len(c.SparseFeatureDims) != len(c.SparseFeatureNames) {
			return errors.Errorf("%d sparse feature names, but %d dims", len(c.SparseFeatureNames), len(c.SparseFeatureDims))
		}
		for ii, dim := range c.SparseFeatureDims {
			if dim != 1 {
				return errors.Errorf("sparse feature %q must have dim 1, got %d", c.SparseFeatureNames[ii], dim)
			}
		}
	}
	return nil
}

// DenseDim returns the total dimension of the dense features, the last axis of the DenseKey output.
func (c MultiHopFeatureConfig) DenseDim() int {
	var sum int
	for _, dim := range c.DenseFeatureDims {
		sum += dim
	}
	return sum
}

// MultiHopFeature expands each vertex into its sampled multi-hop neighborhood, along with the features
// of every vertex in it.
type MultiHopFeature struct {
	*MultiHopNeighbor
	config MultiHopFeatureConfig
}

var _ Transform = (*MultiHopFeature)(nil)

// NewMultiHopFeature validates the configuration and creates the transform.
func NewMultiHopFeature(client engine.Client, config MultiHopFeatureConfig) (*MultiHopFeature, error) {
	if err := config.validate(); err != nil {
		return nil, errors.WithMessage(err, "MultiHopFeature")
	}
	return &MultiHopFeature{
		MultiHopNeighbor: &MultiHopNeighbor{client: client, config: config.MultiHopNeighborConfig},
		config:           config,
	}, nil
}

// Config returns the validated configuration, with the feature dimensions filled in.
func (t *MultiHopFeature) Config() MultiHopFeatureConfig { return t.config }

// Features returns the dense features [N, DenseDim] and the sparse features [N, len(SparseFeatureNames)]
// of the given vertices. Either is nil if not configured.
func (t *MultiHopFeature) Features(vertices []int64) (dense *tensors.Tensor[float32], sparse *tensors.Tensor[int64], err error) {
	c := &t.config
	if len(c.DenseFeatureNames) > 0 {
		parts, err := t.client.GetDenseFeature(vertices, c.DenseFeatureNames, c.DenseFeatureDims)
		if err != nil {
			return nil, nil, err
		}
		dense = tensors.ConcatLast(parts...)
	}
	if len(c.SparseFeatureNames) > 0 {
		parts, err := t.client.GetSparseFeature(vertices, c.SparseFeatureNames, c.SparseFeatureDims)
		if err != nil {
			return nil, nil, err
		}
		sparse = tensors.ConcatLast(parts...)
	}
	return
}

// uniqueFeatures fetches the features of the unique vertices in neighbors, returning the unique vertices,
// the index of each element of neighbors into them, and their features.
func (t *MultiHopFeature) uniqueFeatures(neighbors *tensors.Tensor[int64]) (
	vertices, indices *tensors.Tensor[int64], dense *tensors.Tensor[float32], sparse *tensors.Tensor[int64], err error) {
	vertices, indices = tensors.Unique(neighbors)
	dense, sparse, err = t.Features(vertices.Data())
	return
}

// Transform returns IDsKey [B, W], the features DenseKey [B, W, DenseDim] and SparseKey [B, W, S]
// (S is the number of sparse features) when configured, and EdgeWeightKey [B, W] if configured.
func (t *MultiHopFeature) Transform(ids *tensors.Tensor[int64]) (*tensors.Batch, error) {
	batch, err := t.transform(ids.Data())
	return batch, errors.WithMessage(err, "MultiHopFeature")
}

func (t *MultiHopFeature) transform(ids []int64) (*tensors.Batch, error) {
	neighbors, weights, err := t.sample(ids)
	if err != nil {
		return nil, err
	}
	_, indices, dense, sparse, err := t.uniqueFeatures(neighbors)
	if err != nil {
		return nil, err
	}
	batchSize, width := neighbors.Dim(0), neighbors.Dim(1)
	batch := tensors.NewBatch().SetInt(IDsKey, neighbors)
	if dense != nil {
		batch.SetFloat(DenseKey, tensors.Gather(dense, indices.Data()).Reshape(batchSize, width, dense.Dim(-1)))
	}
	if sparse != nil {
		batch.SetInt(SparseKey, tensors.Gather(sparse, indices.Data()).Reshape(batchSize, width, sparse.Dim(-1)))
	}
	if weights != nil {
		batch.SetFloat(EdgeWeightKey, weights)
	}
	return batch, nil
}

// MultiHopFeatureLabelConfig configures MultiHopFeatureLabel.
type MultiHopFeatureLabelConfig struct {
	MultiHopFeatureConfig

	// LabelName is the dense feature of the root vertex used as label, with dimension LabelDim.
	LabelName string
	LabelDim  int
}

// MultiHopFeatureLabel is a MultiHopFeature that also outputs the label of the root vertices, for
// supervised training.
type MultiHopFeatureLabel struct {
	*MultiHopFeature
	labelName string
	labelDim  int
}

var _ Transform = (*MultiHopFeatureLabel)(nil)

// NewMultiHopFeatureLabel validates the configuration and creates the transform.
func NewMultiHopFeatureLabel(client engine.Client, config MultiHopFeatureLabelConfig) (*MultiHopFeatureLabel, error) {
	if config.LabelName == "" || config.LabelDim <= 0 {
		return nil, errors.Errorf("MultiHopFeatureLabel: label name and dim must be specified, got %q and %d",
			config.LabelName, config.LabelDim)
	}
	mhf, err := NewMultiHopFeature(client, config.MultiHopFeatureConfig)
	if err != nil {
		return nil, err
	}
	return &MultiHopFeatureLabel{MultiHopFeature: mhf, labelName: config.LabelName, labelDim: config.LabelDim}, nil
}

// Transform returns the outputs of MultiHopFeature, plus LabelKey [B, LabelDim].
func (t *MultiHopFeatureLabel) Transform(ids *tensors.Tensor[int64]) (*tensors.Batch, error) {
	batch, err := t.transform(ids.Data())
	if err != nil {
		return nil, errors.WithMessage(err, "MultiHopFeatureLabel")
	}
	labels, err := t.client.GetDenseFeature(ids.Data(), []string{t.labelName}, []int{t.labelDim})
	if err != nil {
		return nil, errors.WithMessage(err, "MultiHopFeatureLabel: fetching labels")
	}
	return batch.SetFloat(LabelKey, labels[0]), nil
}

// MultiHopFeatureNegSparseConfig configures MultiHopFeatureNegSparse.
type MultiHopFeatureNegSparseConfig struct {
	MultiHopFeatureConfig

	// VertexTypes from which negatives are sampled.
	VertexTypes []uint8

	// EdgeTypes of the sampled context neighbor.
	EdgeTypes []uint8

	// NegativeNum is the number of negatives per vertex.
	NegativeNum int
}

// MultiHopFeatureNegSparse samples a context neighbor and negatives for each vertex (see NeighborNeg),
// and expands each of target, context and negative vertices into their multi-hop neighborhood in sparse
// form: the features of the unique vertices, and for each neighborhood the indices into them.
type MultiHopFeatureNegSparse struct {
	*MultiHopFeature
	neg *NeighborNeg
}

var _ Transform = (*MultiHopFeatureNegSparse)(nil)

// NewMultiHopFeatureNegSparse validates the configuration and creates the transform.
func NewMultiHopFeatureNegSparse(client engine.Client, config MultiHopFeatureNegSparseConfig) (*MultiHopFeatureNegSparse, error) {
	neg, err := NewNeighborNeg(client, NeighborNegConfig{
		VertexTypes: config.VertexTypes,
		EdgeTypes:   config.EdgeTypes,
		NegativeNum: config.NegativeNum,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "MultiHopFeatureNegSparse")
	}
	mhf, err := NewMultiHopFeature(client, config.MultiHopFeatureConfig)
	if err != nil {
		return nil, errors.WithMessage(err, "MultiHopFeatureNegSparse")
	}
	return &MultiHopFeatureNegSparse{MultiHopFeature: mhf, neg: neg}, nil
}

// SparseRole expands the vertices into the sparse multi-hop batch of one role:
//
//   - IDsKey [U]: the unique vertices of all neighborhoods.
//   - IndicesKey [N, W]: for each neighborhood the index of its vertices in IDsKey.
//   - DenseKey [U, DenseDim] and SparseKey [U, S]: the features of the unique vertices, if configured.
//   - EdgeWeightKey [N, W], if configured.
func (t *MultiHopFeatureNegSparse) SparseRole(vertices []int64) (*tensors.Batch, error) {
	neighbors, weights, err := t.sample(vertices)
	if err != nil {
		return nil, err
	}
	unique, indices, dense, sparse, err := t.uniqueFeatures(neighbors)
	if err != nil {
		return nil, err
	}
	batch := tensors.NewBatch().SetInt(IDsKey, unique).SetInt(IndicesKey, indices)
	if dense != nil {
		batch.SetFloat(DenseKey, dense)
	}
	if sparse != nil {
		batch.SetInt(SparseKey, sparse)
	}
	if weights != nil {
		batch.SetFloat(EdgeWeightKey, weights)
	}
	return batch, nil
}

// Transform samples contexts and negatives for ids, and returns the sparse multi-hop batch of each of
// the Roles, with keys prefixed by RoleKey: e.g. "target/indices" [B, W], "context/indices" [B, W] and
// "negative/indices" [B*NegativeNum, W]. The sampled ids are included under each role's key, e.g. "negative" [B, NegativeNum].
func (t *MultiHopFeatureNegSparse) Transform(ids *tensors.Tensor[int64]) (*tensors.Batch, error) {
	pairs, err := t.neg.Transform(ids)
	if err != nil {
		return nil, errors.WithMessage(err, "MultiHopFeatureNegSparse")
	}
	batch := tensors.NewBatch()
	for _, role := range Roles {
		vertices := pairs.Int(role)
		roleBatch, err := t.SparseRole(vertices.Data())
		if err != nil {
			return nil, errors.WithMessagef(err, "MultiHopFeatureNegSparse: expanding %s vertices", role)
		}
		batch.SetInt(role, vertices)
		batch.Merge(role+RoleSeparator, roleBatch)
	}
	return batch, nil
}

// TransformTargets expands only the given ids, under the TargetKey role: used for prediction, where no
// contexts or negatives are needed.
func (t *MultiHopFeatureNegSparse) TransformTargets(ids *tensors.Tensor[int64]) (*tensors.Batch, error) {
	roleBatch, err := t.SparseRole(ids.Data())
	if err != nil {
		return nil, errors.WithMessage(err, "MultiHopFeatureNegSparse: expanding targets")
	}
	return tensors.NewBatch().
		SetInt(TargetKey, asColumn(slices.Clone(ids.Data()))).
		Merge(TargetKey+RoleSeparator, roleBatch), nil
}
