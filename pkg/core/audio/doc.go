// Package audio converts call audio between G.711 mu-law and 16-bit linear
// PCM and changes its sample rate.
//
// Every function is pure and safe to call from any number of sessions at
// once. The hot path is one 20 ms telephony frame: 160 mu-law bytes in, 320
// linear samples out at 16 kHz.
package audio
