/*
Package bspline provides the B-spline primitives the coupled curve model is
built on: clamped knot vectors, basis functions with derivatives, and curves
with 3-vector or scalar control points.

Evaluation comes in two flavours. Evaluate and Derivative clamp the parameter
to the curve's domain [u₀,u_last]. The Extended variants instead keep
evaluating the polynomial piece of the boundary knot span, i.e. they
extrapolate the first or last segment beyond the domain:

	c.ExtendedEvaluate(u0 - 0.1)   // polynomial continuation of the first segment

This is needed for projections and arc-length integrals which legitimately
land slightly outside the fitted domain.

Basis functions are calculated following "The NURBS Book" by L. Piegl and
W. Tiller (algorithms A2.1 to A2.3). The span-fixed formulation of A2.3 only
divides by knot differences, which makes it valid for parameters outside the
span as well.

# BSD License

# Copyright (c) Norbert Pillmayer

All rights reserved.

Please refer to the license file for more information.
*/
package bspline
