// Package sigv4 implements AWS Signature Version 4 for the IAM query API.
//
// Sign is a pure function: it performs no I/O and reads no clock. The
// canonical request always signs exactly the content-type, host and
// x-amz-date headers, which is all the IAM control plane needs.
package sigv4
