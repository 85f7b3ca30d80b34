package transport

var SanitizeName = sanitizeName
