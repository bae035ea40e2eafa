// Package notifier delivers operational alerts to a Telegram chat.
//
// Alerts are small, high-signal messages intended for operators: a
// polling loop died, a speedtest finished or kept failing. Delivery is
// best-effort through a bounded queue with rate-limited, retried sends;
// the daemon never blocks on an alert and never fails because one could
// not be delivered.
package notifier
