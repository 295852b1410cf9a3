// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package glm fits negative binomial generalized linear models to the rows of a
count matrix and tests them for differential abundance.

The usual sequence is

  design, _ := glm.OneWayDesign(groups)
  fit, _ := glm.QLFit(ctx, counts, design, glm.DefaultQLOpts)
  results, _ := glm.QLFTest(fit, []float64{0, 1})

QLFit estimates a negative binomial dispersion trend against abundance with
Cox-Reid adjusted profile likelihood, fits every row with its trended
dispersion, and shrinks the resulting quasi-likelihood dispersions toward an
abundance-dependent prior with robust empirical Bayes.  QLFTest then compares
the full model with the model constrained by a contrast.

LRT is the fallback for experiments without replicates: it takes a fixed
dispersion and returns chi-square p-values.
*/
package glm
