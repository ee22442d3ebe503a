// Package cyton decodes the serial byte stream of a 16-channel (board plus
// daisy) biosignal acquisition device into paired Readings.
//
// The stream is a sequence of 32-byte frames that start with 0xA0. Each frame
// carries one sample of eight channels plus the accelerometer. Two
// consecutive frames, the odd-numbered sample followed by the even-numbered
// one, make up a single 16-channel Reading.
//
// A Device owns the serial transport once started. Setup performs the
// optional command/response handshake, Start launches the background read
// loop and returns the channel readings are delivered on.
package cyton
